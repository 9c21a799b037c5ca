// Package route compiles page route declarations and resolves request
// paths against them.
//
// Five kinds of declaration are understood:
//
//	/users                  Static        exact match
//	/users/{id}, /files/*   Dynamic       {name} captures one segment, * matches one segment
//	*, .*                   CatchAll      matches every path
//	regex:^/item/\d+$       RegexString   the remainder is compiled verbatim
//	regexp.MustCompile(..)  RegexPattern  used verbatim
package route

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// RegexPrefix marks a declaration as a raw regular expression.
const RegexPrefix = "regex:"

// segment matches one path segment.
const segment = `[^/]+`

// Kind is the class of a route declaration.
type Kind int

const (
	Static Kind = iota
	Dynamic
	CatchAll
	RegexString
	RegexPattern
)

func (k Kind) String() string {
	switch k {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	case CatchAll:
		return "catch-all"
	case RegexString:
		return "regex-string"
	case RegexPattern:
		return "regex-pattern"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinel errors for route compilation and registration.
var (
	ErrInvalidRoute = errors.New("route: invalid declaration")
	ErrDuplicate    = errors.New("route: duplicate declaration")
)

var (
	placeholder = regexp.MustCompile(`\{([^{}]*)\}`)
	identifier  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	nonWord     = regexp.MustCompile(`[^A-Za-z0-9_]+`)
)

// KindOf classifies a declaration string without compiling it.
func KindOf(decl string) Kind {
	switch {
	case strings.HasPrefix(decl, RegexPrefix):
		return RegexString
	case decl == "*" || decl == ".*":
		return CatchAll
	case placeholder.MatchString(decl) || strings.Contains(decl, "*"):
		return Dynamic
	}
	return Static
}

// Compile turns a declaration string into its matcher.
func Compile(decl string) (*regexp.Regexp, Kind, error) {
	kind := KindOf(decl)
	var (
		re  *regexp.Regexp
		err error
	)
	switch kind {
	case RegexString:
		re, err = regexp.Compile(strings.TrimSpace(strings.TrimPrefix(decl, RegexPrefix)))
	case CatchAll:
		re, err = regexp.Compile(`.*`)
	case Dynamic:
		var expr string
		expr, err = dynamicExpr(decl)
		if err == nil {
			re, err = regexp.Compile(expr)
		}
	default:
		re, err = regexp.Compile("^" + regexp.QuoteMeta(decl) + "$")
	}
	if err != nil {
		return nil, kind, fmt.Errorf("%w: %q: %v", ErrInvalidRoute, decl, err)
	}
	return re, kind, nil
}

// CompilePattern accepts an already compiled expression as a route.
func CompilePattern(re *regexp.Regexp) (*regexp.Regexp, Kind, error) {
	if re == nil {
		return nil, RegexPattern, fmt.Errorf("%w: nil pattern", ErrInvalidRoute)
	}
	return re, RegexPattern, nil
}

func dynamicExpr(decl string) (string, error) {
	var sb strings.Builder
	sb.WriteString("^")
	rest := decl
	for rest != "" {
		loc := placeholder.FindStringSubmatchIndex(rest)
		literal := rest
		if loc != nil {
			literal = rest[:loc[0]]
		}
		writeLiteral(&sb, literal)
		if loc == nil {
			break
		}
		name := rest[loc[2]:loc[3]]
		if !identifier.MatchString(name) {
			return "", fmt.Errorf("placeholder {%s} is not an identifier", name)
		}
		sb.WriteString("(?P<" + name + ">" + segment + ")")
		rest = rest[loc[1]:]
	}
	sb.WriteString("$")
	return sb.String(), nil
}

// writeLiteral quotes s, turning each bare * into a segment wildcard.
func writeLiteral(sb *strings.Builder, s string) {
	parts := strings.Split(s, "*")
	for i, p := range parts {
		if i > 0 {
			sb.WriteString(segment)
		}
		sb.WriteString(regexp.QuoteMeta(p))
	}
}

// Params maps placeholder names to the matched path segments.
type Params map[string]string

// ExtractParams matches path against re. It reports false when the path
// does not match; a match without named groups yields an empty, non-nil map.
func ExtractParams(re *regexp.Regexp, path string) (Params, bool) {
	m := re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	params := make(Params)
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(m) {
			params[name] = m[i]
		}
	}
	return params, true
}

// Normalize reduces a request path to the form routes are matched against:
// a single leading slash, no trailing slash, no query or fragment.
func Normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}

// CleanName derives a CSS-safe fragment from a declaration. Declarations
// with no usable characters yield "dynamic".
func CleanName(decl string) string {
	decl = strings.TrimPrefix(decl, RegexPrefix)
	name := strings.Trim(nonWord.ReplaceAllString(decl, "-"), "-")
	if name == "" {
		return "dynamic"
	}
	return name
}
