package route

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// NoPriority is the priority reported for a path that matched nothing.
const NoPriority = math.MinInt

// DefaultCacheSize bounds the number of memoized resolutions.
const DefaultCacheSize = 512

// scanOrder is the order route classes are searched in. At equal priority
// the first match in this order wins.
var scanOrder = [...]Kind{RegexPattern, RegexString, Static, Dynamic, CatchAll}

// Route is a compiled declaration bound to a target.
type Route[T any] struct {
	Decl     string
	Pattern  *regexp.Regexp
	Kind     Kind
	Priority int
	Target   T
}

// Match is the outcome of a successful resolution.
type Match[T any] struct {
	Route    *Route[T]
	Target   T
	Params   Params
	Priority int
}

type cached[T any] struct {
	match Match[T]
	ok    bool
}

// Table holds registered routes and resolves paths against them.
// It is safe for concurrent use.
type Table[T any] struct {
	mu     sync.RWMutex
	byKind [len(scanOrder)][]*Route[T]
	static map[string]*Route[T]
	decls  map[string]bool
	cache  *lru.Cache[string, cached[T]]
}

// NewTable creates an empty table memoizing up to cacheSize resolutions.
// A cacheSize of zero or less disables memoization.
func NewTable[T any](cacheSize int) *Table[T] {
	t := &Table[T]{
		static: make(map[string]*Route[T]),
		decls:  make(map[string]bool),
	}
	if cacheSize > 0 {
		c, err := lru.New[string, cached[T]](cacheSize)
		if err != nil {
			panic(fmt.Sprintf("route: lru: %v", err))
		}
		t.cache = c
	}
	return t
}

// Add compiles decl and registers it with the given priority.
func (t *Table[T]) Add(decl string, priority int, target T) (*Route[T], error) {
	// paths are normalized before matching, so path-shaped declarations
	// are too
	if k := KindOf(decl); k == Static || k == Dynamic {
		decl = Normalize(decl)
	}
	re, kind, err := Compile(decl)
	if err != nil {
		return nil, err
	}
	return t.add(&Route[T]{Decl: decl, Pattern: re, Kind: kind, Priority: priority, Target: target})
}

// AddPattern registers a compiled expression as a route.
func (t *Table[T]) AddPattern(re *regexp.Regexp, priority int, target T) (*Route[T], error) {
	re, kind, err := CompilePattern(re)
	if err != nil {
		return nil, err
	}
	return t.add(&Route[T]{Decl: re.String(), Pattern: re, Kind: kind, Priority: priority, Target: target})
}

func (t *Table[T]) add(r *Route[T]) (*Route[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := r.Kind.String() + " " + r.Decl
	if t.decls[id] {
		return nil, fmt.Errorf("%w: %s route %q", ErrDuplicate, r.Kind, r.Decl)
	}
	t.decls[id] = true

	slot := kindSlot(r.Kind)
	t.byKind[slot] = append(t.byKind[slot], r)
	if r.Kind == Static {
		t.static[r.Decl] = r
	}
	if t.cache != nil {
		t.cache.Purge()
	}
	return r, nil
}

// Resolve finds the best route for path. The highest priority wins; ties
// go to the first match in scan order, then declaration order.
func (t *Table[T]) Resolve(path string) (Match[T], bool) {
	path = Normalize(path)
	if t.cache != nil {
		if c, ok := t.cache.Get(path); ok {
			return c.match.clone(), c.ok
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	best, ok := t.resolve(path)
	// cached under the read lock so a concurrent add cannot purge first
	if t.cache != nil {
		t.cache.Add(path, cached[T]{match: best, ok: ok})
	}
	return best.clone(), ok
}

func (t *Table[T]) resolve(path string) (Match[T], bool) {
	best := Match[T]{Priority: NoPriority}
	found := false
	consider := func(r *Route[T]) {
		if found && r.Priority <= best.Priority {
			return
		}
		params, ok := ExtractParams(r.Pattern, path)
		if !ok {
			return
		}
		best = Match[T]{Route: r, Target: r.Target, Params: params, Priority: r.Priority}
		found = true
	}

	for slot, kind := range scanOrder {
		if kind == Static {
			// static declarations are unique and normalized
			if r, ok := t.static[path]; ok {
				consider(r)
			}
			continue
		}
		for _, r := range t.byKind[slot] {
			consider(r)
		}
	}
	return best, found
}

// Routes returns every registered route in scan order.
func (t *Table[T]) Routes() []*Route[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Route[T]
	for slot := range scanOrder {
		out = append(out, t.byKind[slot]...)
	}
	return out
}

// Len returns the number of registered routes.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.decls)
}

func (m Match[T]) clone() Match[T] {
	m.Params = maps.Clone(m.Params)
	return m
}

func kindSlot(k Kind) int {
	for i, sk := range scanOrder {
		if sk == k {
			return i
		}
	}
	panic(fmt.Sprintf("route: unknown kind %v", k))
}
