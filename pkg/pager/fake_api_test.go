package pager

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/Sternrassler/gql-node-pager/pkg/checkpoint"
	"github.com/Sternrassler/gql-node-pager/pkg/graphql"
	"github.com/Sternrassler/gql-node-pager/pkg/idsource"
	"github.com/Sternrassler/gql-node-pager/pkg/record"
)

type fakeAgreement struct {
	id    string
	sales []string
}

type fakeCall struct {
	ids  []string
	vars graphql.Variables
}

// fakeAPI serves orders -> agreements -> sales with index cursors. Like a
// real server, one sales_cursor applies to every agreement in the response.
type fakeAPI struct {
	orders map[string][]fakeAgreement
	calls  []fakeCall

	// failBatch fails every request for more than one ID.
	failBatch bool

	// failIDs fails any request that includes the ID.
	failIDs map[string]error

	// stuck orders report a next agreements page whose cursor never moves.
	stuck map[string]bool

	// cycle orders alternate between two agreements cursors forever.
	cycle map[string]bool
}

func (f *fakeAPI) FetchNodes(_ context.Context, _ string, ids []string, vars graphql.Variables) (*graphql.Result, error) {
	f.calls = append(f.calls, fakeCall{ids: append([]string(nil), ids...), vars: vars.Clone()})

	if f.failBatch && len(ids) > 1 {
		return nil, errors.New("batch rejected")
	}
	for _, id := range ids {
		if err := f.failIDs[id]; err != nil {
			return nil, err
		}
	}

	first, _ := vars["first"].(int)
	if first == 0 {
		first = 250
	}
	aCursor, _ := vars["agreements_cursor"].(string)
	sCursor, _ := vars["sales_cursor"].(string)

	result := &graphql.Result{Nodes: map[string]*record.Object{}}
	for _, id := range ids {
		agreements, ok := f.orders[id]
		if !ok {
			result.NotFound = append(result.NotFound, id)
			continue
		}
		node := f.order(id, agreements, first, aCursor, sCursor)
		if f.stuck[id] {
			setPageInfo(node.Object("agreements"), true, "a-stuck")
		}
		if f.cycle[id] {
			next := "a-x"
			if aCursor == "a-x" {
				next = "a-y"
			}
			setPageInfo(node.Object("agreements"), true, next)
		}
		result.Nodes[id] = node
		result.Order = append(result.Order, id)
	}
	return result, nil
}

func (f *fakeAPI) order(id string, agreements []fakeAgreement, first int, aCursor, sCursor string) *record.Object {
	start, end := window("a", len(agreements), first, aCursor)
	edges := []any{}
	for _, a := range agreements[start:end] {
		sStart, sEnd := window("s", len(a.sales), first, sCursor)
		salesEdges := []any{}
		for _, s := range a.sales[sStart:sEnd] {
			salesEdges = append(salesEdges, record.NewObject("node", record.NewObject("id", s)))
		}
		edges = append(edges, record.NewObject(
			"node", record.NewObject("id", a.id, "sales", connection(salesEdges, "s", sEnd, len(a.sales), sStart))),
		)
	}
	return record.NewObject(
		"id", id,
		"name", "#"+id,
		"agreements", connection(edges, "a", end, len(agreements), start),
	)
}

// window returns the slice bounds for the page after cursor.
func window(prefix string, total, first int, cursor string) (int, int) {
	start := 0
	if n, err := strconv.Atoi(strings.TrimPrefix(cursor, prefix)); err == nil && strings.HasPrefix(cursor, prefix) {
		start = n
	}
	if start > total {
		start = total
	}
	end := start + first
	if end > total {
		end = total
	}
	return start, end
}

func connection(edges []any, prefix string, end, total, start int) *record.Object {
	conn := record.NewObject("edges", edges)
	endCursor := ""
	if end > start {
		endCursor = prefix + strconv.Itoa(end)
	}
	conn.Set("pageInfo", pageInfo(end < total, endCursor))
	return conn
}

func pageInfo(hasNext bool, endCursor string) *record.Object {
	info := record.NewObject("hasNextPage", hasNext)
	if endCursor == "" {
		info.Set("endCursor", nil)
	} else {
		info.Set("endCursor", endCursor)
	}
	return info
}

func setPageInfo(conn *record.Object, hasNext bool, endCursor string) {
	conn.Set("pageInfo", pageInfo(hasNext, endCursor))
}

// memorySink keeps records and checkpoints in order.
type memorySink struct {
	records     []*record.CompleteRecord
	checkpoints []checkpoint.Checkpoint
	err         error
}

func (s *memorySink) Append(_ context.Context, rec *record.CompleteRecord, cp checkpoint.Checkpoint) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

type memoryFailures struct {
	ids []string
	err error
}

func (m *memoryFailures) Record(id string, _ error) error {
	if m.err != nil {
		return m.err
	}
	m.ids = append(m.ids, id)
	return nil
}

// sliceSource yields fixed batches, then the empty sentinel.
type sliceSource struct {
	batches [][]string
	next    int
	offset  int64
}

func (s *sliceSource) Next() (idsource.Batch, error) {
	if s.next >= len(s.batches) {
		return idsource.Batch{}, nil
	}
	ids := s.batches[s.next]
	s.next++

	batch := idsource.Batch{IDs: ids}
	for _, id := range ids {
		s.offset += int64(len(id) + 1)
		batch.Offsets = append(batch.Offsets, s.offset)
	}
	return batch, nil
}

// collect returns the ids found at each "edges[].node.id" under path.
func collect(t interface{ Fatalf(string, ...any) }, node *record.Object, path record.Path) []string {
	v, ok := path.Resolve(node)
	if !ok {
		t.Fatalf("path %s not found", path)
	}
	conn, ok := record.AsConnection(v)
	if !ok {
		t.Fatalf("path %s is not a connection", path)
	}
	ids := []string{}
	for _, edge := range conn.Edges() {
		ids = append(ids, record.EdgeNode(edge).ID())
	}
	return ids
}
