package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Context is the read-only data a condition is evaluated against: a nested
// mapping addressed by dotted paths such as claim.status
type Context struct {
	root Value
}

// NewContext builds a Context from decoded JSON/YAML style data
func NewContext(data map[string]any) (Context, error) {
	if data == nil {
		return Context{root: Object(nil)}, nil
	}
	root, err := FromAny(data)
	if err != nil {
		return Context{}, fmt.Errorf("invalid data context: %w", err)
	}
	return Context{root: root}, nil
}

// MustContext is like NewContext but panics on error. Intended for tests and
// static fixtures.
func MustContext(data map[string]any) Context {
	c, err := NewContext(data)
	if err != nil {
		panic(err)
	}
	return c
}

// ContextFromValue wraps an object value as a Context
func ContextFromValue(v Value) (Context, error) {
	if v.Kind() != KindObject {
		return Context{}, fmt.Errorf("data context must be an object, got %s", v.Kind())
	}
	return Context{root: v}, nil
}

// Root returns the context as an object value
func (c Context) Root() Value {
	if c.root.kind != KindObject {
		return Object(nil)
	}
	return c.root
}

// Lookup resolves a dotted path. A missing path, or a path that walks through
// a non-object, returns Null together with an error wrapping ErrUnresolved.
// Callers inside the evaluator treat that error as "use null".
func (c Context) Lookup(path string) (Value, error) {
	cur := c.root
	for _, seg := range strings.Split(path, ".") {
		if cur.kind != KindObject {
			return Null(), unresolved(path)
		}
		next, ok := cur.obj[seg]
		if !ok {
			return Null(), unresolved(path)
		}
		cur = next
	}
	return cur, nil
}

// Resolve is Lookup with the unresolved case folded into Null
func (c Context) Resolve(path string) Value {
	v, _ := c.Lookup(path)
	return v
}

// MarshalJSON implements json.Marshaler
func (c Context) MarshalJSON() ([]byte, error) {
	return c.Root().MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler
func (c *Context) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = Context{root: Object(nil)}
		return nil
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	ctx, err := ContextFromValue(v)
	if err != nil {
		return err
	}
	*c = ctx
	return nil
}
