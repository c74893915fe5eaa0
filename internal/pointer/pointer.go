// Package pointer extracts sub-values from normalized node outputs using
// root-based path expressions ("/field/nested/0").
//
// Syntax follows RFC 6901 with one deviation: "/" addresses the whole value
// rather than the member named "".
package pointer

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/rendis/graphcompose/pkg/schema"
)

// Parse splits a pointer into unescaped reference tokens.
// "" and "/" yield no tokens.
func Parse(pointer string) ([]string, error) {
	if pointer == "" || pointer == "/" {
		return nil, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, schema.NewErrorf(schema.ErrCodePointerResolution,
			"pointer %q must start with \"/\"", pointer).
			WithDetails(map[string]any{"pointer": pointer})
	}

	raw := strings.Split(pointer[1:], "/")
	tokens := make([]string, len(raw))
	for i, tok := range raw {
		if err := checkEscapes(tok); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodePointerResolution,
				"pointer %q: %s", pointer, err.Error()).
				WithDetails(map[string]any{"pointer": pointer, "segment": tok})
		}
		tokens[i] = unescape(tok)
	}
	return tokens, nil
}

// Validate reports whether pointer is syntactically valid.
func Validate(pointer string) error {
	_, err := Parse(pointer)
	return err
}

// Resolve walks value along pointer. Every segment must exist; there are no defaults.
func Resolve(value any, pointer string) (any, error) {
	tokens, err := Parse(pointer)
	if err != nil {
		return nil, err
	}

	cur := value
	for i, tok := range tokens {
		next, ok := step(cur, tok)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodePointerResolution,
				"pointer %q: segment %q not found at %s", pointer, tok, location(tokens[:i])).
				WithDetails(map[string]any{"pointer": pointer, "segment": tok, "index": i})
		}
		cur = next
	}
	return cur, nil
}

// step descends one level. Common JSON-like shapes take the fast path;
// other maps with string keys, slices and arrays go through reflection.
func step(cur any, tok string) (any, bool) {
	switch v := cur.(type) {
	case map[string]any:
		next, ok := v[tok]
		return next, ok
	case []any:
		idx, ok := index(tok, len(v))
		if !ok {
			return nil, false
		}
		return v[idx], true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(cur)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		elem := rv.MapIndex(reflect.ValueOf(tok).Convert(rv.Type().Key()))
		if !elem.IsValid() {
			return nil, false
		}
		return elem.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, ok := index(tok, rv.Len())
		if !ok {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	}
	return nil, false
}

// index parses a sequence index. Leading zeros and "-" are rejected as in RFC 6901.
func index(tok string, length int) (int, bool) {
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, false
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 || n >= length {
		return 0, false
	}
	return n, true
}

func checkEscapes(tok string) error {
	for i := 0; i < len(tok); i++ {
		if tok[i] != '~' {
			continue
		}
		if i+1 >= len(tok) || (tok[i+1] != '0' && tok[i+1] != '1') {
			return fmt.Errorf("invalid escape sequence in segment %q", tok)
		}
	}
	return nil
}

func unescape(tok string) string {
	if !strings.Contains(tok, "~") {
		return tok
	}
	return strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
}

func escape(tok string) string {
	return strings.ReplaceAll(strings.ReplaceAll(tok, "~", "~0"), "/", "~1")
}

// location renders the already-walked prefix of a pointer.
func location(tokens []string) string {
	if len(tokens) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, t := range tokens {
		b.WriteByte('/')
		b.WriteString(escape(t))
	}
	return b.String()
}

// Join builds a pointer from raw (unescaped) segments.
func Join(segments ...string) string {
	return location(segments)
}
