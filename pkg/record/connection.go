package record

import (
	"strconv"
	"strings"
)

// Connection is a view over an object shaped like a Relay connection:
//
//	{"edges": [{"node": {...}, "cursor": "..."}], "pageInfo": {"hasNextPage": true, "endCursor": "..."}}
//
// The view shares storage with the underlying object, so appending pages
// mutates the record it was taken from.
type Connection struct {
	obj *Object
}

// AsConnection reports whether v is a connection object.
func AsConnection(v any) (Connection, bool) {
	obj, ok := v.(*Object)
	if !ok || obj == nil {
		return Connection{}, false
	}
	edges, ok := obj.Get("edges")
	if !ok {
		return Connection{}, false
	}
	if _, isList := edges.([]any); !isList {
		return Connection{}, false
	}
	pageInfo := obj.Object("pageInfo")
	if pageInfo == nil {
		return Connection{}, false
	}
	if _, ok := pageInfo.Get("hasNextPage"); !ok {
		return Connection{}, false
	}
	return Connection{obj: obj}, true
}

// Object returns the underlying connection object.
func (c Connection) Object() *Object {
	return c.obj
}

// Edges returns the connection's edges in page order.
func (c Connection) Edges() []any {
	v, _ := c.obj.Get("edges")
	edges, _ := v.([]any)
	return edges
}

// HasNextPage reports pageInfo.hasNextPage.
func (c Connection) HasNextPage() bool {
	v, _ := c.obj.Object("pageInfo").Get("hasNextPage")
	b, _ := v.(bool)
	return b
}

// EndCursor returns pageInfo.endCursor, falling back to the last edge's cursor
// for queries that only select per-edge cursors.
func (c Connection) EndCursor() string {
	if cursor := c.obj.Object("pageInfo").String("endCursor"); cursor != "" {
		return cursor
	}
	edges := c.Edges()
	if len(edges) == 0 {
		return ""
	}
	if last, ok := edges[len(edges)-1].(*Object); ok {
		return last.String("cursor")
	}
	return ""
}

// AppendPage concatenates the edges of page after the current edges and
// adopts the page's pageInfo.
func (c Connection) AppendPage(page Connection) {
	edges := append(c.Edges(), page.Edges()...)
	c.obj.Set("edges", edges)
	c.obj.Set("pageInfo", page.obj.Object("pageInfo"))
}

// EdgeNode returns the "node" object of an edge.
func EdgeNode(edge any) *Object {
	obj, _ := edge.(*Object)
	return obj.Object("node")
}

// Step selects an object field (Index < 0) or a list element (Index >= 0).
type Step struct {
	Key   string
	Index int
}

// Key returns a step selecting an object field.
func Key(name string) Step {
	return Step{Key: name, Index: -1}
}

// Index returns a step selecting a list element.
func Index(i int) Step {
	return Step{Index: i}
}

// Path locates a value inside a node.
type Path []Step

// Append returns a new path with steps added; p is not modified.
func (p Path) Append(steps ...Step) Path {
	out := make(Path, 0, len(p)+len(steps))
	out = append(out, p...)
	return append(out, steps...)
}

// Resolve follows the path from root.
func (p Path) Resolve(root any) (any, bool) {
	cur := root
	for _, step := range p {
		if step.Index >= 0 {
			list, ok := cur.([]any)
			if !ok || step.Index >= len(list) {
				return nil, false
			}
			cur = list[step.Index]
			continue
		}
		obj, ok := cur.(*Object)
		if !ok {
			return nil, false
		}
		v, ok := obj.Get(step.Key)
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// String renders the path as "agreements.edges[0].node.sales".
func (p Path) String() string {
	var b strings.Builder
	for _, step := range p {
		if step.Index >= 0 {
			b.WriteString("[" + strconv.Itoa(step.Index) + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(step.Key)
	}
	return b.String()
}

// Walk visits every value under root in pre-order, fields in declaration
// order. Returning false from visit skips the value's children.
func Walk(root any, visit func(path Path, v any) bool) {
	type item struct {
		path Path
		v    any
	}
	stack := []item{{path: Path{}, v: root}}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !visit(it.path, it.v) {
			continue
		}

		// Children are pushed in reverse so they pop in declaration order.
		switch val := it.v.(type) {
		case *Object:
			if val == nil {
				continue
			}
			for i := len(val.Fields) - 1; i >= 0; i-- {
				f := val.Fields[i]
				stack = append(stack, item{path: it.path.Append(Key(f.Name)), v: f.Value})
			}
		case []any:
			for i := len(val) - 1; i >= 0; i-- {
				stack = append(stack, item{path: it.path.Append(Index(i)), v: val[i]})
			}
		}
	}
}

// CompleteRecord is a node whose connections have all been drained.
type CompleteRecord struct {
	ID   string
	Node *Object
}

// MarshalJSON writes the node itself; the ID is carried by the node's fields.
func (r *CompleteRecord) MarshalJSON() ([]byte, error) {
	return r.Node.MarshalJSON()
}

// IsComplete reports whether no connection under node reports a next page.
func IsComplete(node *Object) bool {
	complete := true
	Walk(node, func(_ Path, v any) bool {
		if conn, ok := AsConnection(v); ok && conn.HasNextPage() {
			complete = false
		}
		return complete
	})
	return complete
}
