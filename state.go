package quill

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// StateDef declares a named state store: a fixed set of typed fields with
// defaults. Each session holds at most one live Store per definition,
// created on first access.
//
//	var (
//	    Count   = quill.Field("count", 0)
//	    Label   = quill.Field("label", "clicks")
//	    Counter = quill.DefineState("counter", Count, Label)
//	)
//
//	// inside a handler or render
//	err := Counter.Set(ctx, Count.Val(5))
//	n, err := Count.Read(ctx)
type StateDef struct {
	name   string
	fields []fieldSpec
	index  map[string]int
}

type fieldSpec struct {
	name    string
	typ     reflect.Type
	initial any
}

// FieldDecl is a field declaration accepted by DefineState.
type FieldDecl interface {
	spec() fieldSpec
	bind(def *StateDef, i int)
}

// FieldKey is a typed handle on one field of a StateDef.
type FieldKey[T any] struct {
	name    string
	initial T
	def     *StateDef
	i       int
}

// Field declares a field whose type is the type of initial.
func Field[T any](name string, initial T) *FieldKey[T] {
	return &FieldKey[T]{name: name, initial: initial}
}

func (f *FieldKey[T]) spec() fieldSpec {
	return fieldSpec{name: f.name, typ: reflect.TypeFor[T](), initial: f.initial}
}

func (f *FieldKey[T]) bind(def *StateDef, i int) {
	if f.def != nil && f.def != def {
		panic(fmt.Sprintf("quill: field %q already belongs to state %q", f.name, f.def.name))
	}
	f.def, f.i = def, i
}

// Name returns the field name.
func (f *FieldKey[T]) Name() string {
	return f.name
}

// Val builds an assignment of v to this field for Store.Set.
func (f *FieldKey[T]) Val(v T) Assignment {
	return Assignment{def: f.def, name: f.name, value: v}
}

// From reads the field from s. It returns the zero value when s is nil or
// was created from a different state; use Lookup to tell the cases apart.
func (f *FieldKey[T]) From(s *Store) T {
	v, _ := f.Lookup(s)
	return v
}

// Lookup reads the field from s. It fails with a *FieldError wrapping
// ErrUnknownField when the field does not belong to the store's state.
func (f *FieldKey[T]) Lookup(s *Store) (T, error) {
	var zero T
	if s == nil || f.def == nil || s.def != f.def {
		state := ""
		if s != nil {
			state = s.def.name
		}
		return zero, &FieldError{State: state, Field: f.name, Err: ErrUnknownField}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.values[f.i].(T)
	return v, nil
}

// Read reads the field from the live store of the session in ctx.
func (f *FieldKey[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if f.def == nil {
		return zero, fmt.Errorf("quill: field %q is not part of any state", f.name)
	}
	s, err := f.def.Instance(ctx)
	if err != nil {
		return zero, err
	}
	return f.Lookup(s)
}

// DefineState declares a state store. It panics on an empty or duplicate
// field name, like route registration does for conflicting routes.
func DefineState(name string, fields ...FieldDecl) *StateDef {
	def := &StateDef{name: name, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		spec := f.spec()
		if spec.name == "" {
			panic(fmt.Sprintf("quill: state %q: empty field name", name))
		}
		if _, exists := def.index[spec.name]; exists {
			panic(fmt.Sprintf("quill: state %q: duplicate field %q", name, spec.name))
		}
		if !assignable(spec.typ, spec.initial) {
			panic(fmt.Sprintf("quill: state %q: invalid default for field %q", name, spec.name))
		}
		def.index[spec.name] = i
		def.fields = append(def.fields, spec)
		f.bind(def, i)
	}
	return def
}

// Name returns the state name.
func (d *StateDef) Name() string {
	return d.name
}

// Fields returns the field names in declaration order.
func (d *StateDef) Fields() []string {
	names := make([]string, len(d.fields))
	for i, f := range d.fields {
		names[i] = f.name
	}
	return names
}

// New creates a store holding the defaults that is not bound to any
// session.
func (d *StateDef) New() *Store {
	s := &Store{def: d, values: make([]any, len(d.fields))}
	for i, f := range d.fields {
		s.values[i] = f.initial
	}
	return s
}

// Instance returns the live store for the session in ctx, creating it on
// first access. It fails with ErrNoSession outside a session.
func (d *StateDef) Instance(ctx context.Context) (*Store, error) {
	s, ok := SessionFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: state %q accessed outside a session", ErrNoSession, d.name)
	}
	return s.store(d)
}

// Set applies assignments to the live store of the session in ctx.
func (d *StateDef) Set(ctx context.Context, assignments ...Assignment) error {
	s, err := d.Instance(ctx)
	if err != nil {
		return err
	}
	return s.Set(assignments...)
}

// Assignment is one field update for Store.Set.
type Assignment struct {
	def   *StateDef
	name  string
	value any
}

// Store is a live instance of a StateDef.
type Store struct {
	def *StateDef

	mu       sync.Mutex
	values   []any
	onChange func()
}

// State returns the definition the store was created from.
func (s *Store) State() *StateDef {
	return s.def
}

// Get returns the current value of a field.
func (s *Store) Get(name string) (any, error) {
	i, ok := s.def.index[name]
	if !ok {
		return nil, &FieldError{State: s.def.name, Field: name, Err: ErrUnknownField}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[i], nil
}

// Snapshot returns a copy of every field value.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for i, f := range s.def.fields {
		out[f.name] = s.values[i]
	}
	return out
}

// OnChange sets the function called once after any Set that changed at
// least one field. Sessions register their render request here.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Set updates fields. Every assignment is validated before any is applied:
// an unknown field or a value of the wrong type rejects the whole call with
// a *FieldError. Fields whose new value is deeply equal to the old one are
// not counted as changed. If any field changed, the change callback runs
// once, after the store is unlocked.
func (s *Store) Set(assignments ...Assignment) error {
	idx := make([]int, len(assignments))
	for n, a := range assignments {
		if a.def != nil && a.def != s.def {
			return &FieldError{State: s.def.name, Field: a.name, Err: ErrUnknownField}
		}
		i, err := s.def.check(a.name, a.value)
		if err != nil {
			return err
		}
		idx[n] = i
	}

	s.mu.Lock()
	changed := false
	for n, a := range assignments {
		i := idx[n]
		if !reflect.DeepEqual(s.values[i], a.value) {
			s.values[i] = a.value
			changed = true
		}
	}
	fn := s.onChange
	s.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
	return nil
}

// SetMap is Set for dynamically named fields. Fields are validated in
// declaration order so the reported error is deterministic.
func (s *Store) SetMap(values map[string]any) error {
	assignments := make([]Assignment, 0, len(values))
	for name := range values {
		if _, ok := s.def.index[name]; !ok {
			return &FieldError{State: s.def.name, Field: name, Err: ErrUnknownField}
		}
	}
	for _, f := range s.def.fields {
		if v, ok := values[f.name]; ok {
			assignments = append(assignments, Assignment{def: s.def, name: f.name, value: v})
		}
	}
	return s.Set(assignments...)
}

// check validates one assignment and returns the field index.
func (d *StateDef) check(name string, v any) (int, error) {
	i, ok := d.index[name]
	if !ok {
		return 0, &FieldError{State: d.name, Field: name, Err: ErrUnknownField}
	}
	if f := d.fields[i]; !assignable(f.typ, v) {
		return 0, &FieldError{State: d.name, Field: name, Value: v, Want: f.typ.String(), Err: ErrFieldType}
	}
	return i, nil
}

func assignable(typ reflect.Type, v any) bool {
	if v == nil {
		switch typ.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return true
		}
		return false
	}
	return reflect.TypeOf(v).AssignableTo(typ)
}
