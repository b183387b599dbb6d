// Package record models fetched GraphQL nodes as an ordered JSON tree.
//
// Field order is preserved from the server response so that records written
// to the output log mirror the query's field declaration order, and so that
// connection traversal is deterministic.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNotObject is returned when a JSON document was expected to be an object.
var ErrNotObject = errors.New("json value is not an object")

// Field is a single named member of an Object.
type Field struct {
	Name  string
	Value any
}

// Object is a JSON object that keeps its fields in arrival order.
//
// Values are one of: nil, bool, json.Number, string, *Object or []any.
type Object struct {
	Fields []Field
}

// NewObject creates an object from alternating name/value pairs.
func NewObject(pairs ...any) *Object {
	obj := &Object{}
	for i := 0; i+1 < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		obj.Set(name, pairs[i+1])
	}
	return obj
}

// Get returns the value of the named field.
func (o *Object) Get(name string) (any, bool) {
	if o == nil {
		return nil, false
	}
	for _, f := range o.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the named field or appends it when absent.
func (o *Object) Set(name string, value any) {
	for i := range o.Fields {
		if o.Fields[i].Name == name {
			o.Fields[i].Value = value
			return
		}
	}
	o.Fields = append(o.Fields, Field{Name: name, Value: value})
}

// String returns the named field if it is a JSON string.
func (o *Object) String(name string) string {
	v, _ := o.Get(name)
	s, _ := v.(string)
	return s
}

// Object returns the named field if it is a nested object.
func (o *Object) Object(name string) *Object {
	v, _ := o.Get(name)
	obj, _ := v.(*Object)
	return obj
}

// ID returns the node's "id" field, or "" when absent.
func (o *Object) ID() string {
	return o.String("id")
}

// MarshalJSON writes the fields in their stored order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping field order.
func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	obj, ok := v.(*Object)
	if !ok {
		return ErrNotObject
	}
	*o = *obj
	return nil
}

// Decode parses any JSON document into the ordered value model.
// Numbers are kept as json.Number so large IDs and money amounts round-trip exactly.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return v, nil
}

// decodeValue reads one value. Containers are built with an explicit stack so
// deeply nested responses do not grow the goroutine stack.
func decodeValue(dec *json.Decoder) (any, error) {
	type frame struct {
		obj    *Object
		arr    []any
		key    string
		hasKey bool
	}

	var stack []*frame
	var result any
	done := false

	// attach hands a completed value to the enclosing container.
	attach := func(v any) {
		if len(stack) == 0 {
			result = v
			done = true
			return
		}
		top := stack[len(stack)-1]
		if top.obj != nil {
			top.obj.Fields = append(top.obj.Fields, Field{Name: top.key, Value: v})
			top.key, top.hasKey = "", false
		} else {
			top.arr = append(top.arr, v)
		}
	}

	for !done {
		// Object keys arrive as plain string tokens.
		if n := len(stack); n > 0 && stack[n-1].obj != nil && !stack[n-1].hasKey && dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("invalid object key %v", tok)
			}
			stack[n-1].key, stack[n-1].hasKey = key, true
			continue
		}

		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{':
				stack = append(stack, &frame{obj: &Object{Fields: []Field{}}})
			case '[':
				stack = append(stack, &frame{arr: []any{}})
			case '}', ']':
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.obj != nil {
					attach(top.obj)
				} else {
					attach(top.arr)
				}
			}
		default:
			attach(t)
		}
	}

	return result, nil
}

// encodeValue writes v as JSON. Nested containers recurse; output depth
// matches the depth the server already produced.
func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case *Object:
		if val == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		for i, f := range val.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(f.Name)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := encodeValue(buf, f.Value); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return nil
}
