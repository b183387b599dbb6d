package pager

import (
	"context"
	"fmt"

	"github.com/Sternrassler/gql-node-pager/pkg/graphql"
	"github.com/Sternrassler/gql-node-pager/pkg/record"
	"github.com/rs/zerolog"
)

// NodeFetcher is the interface the GraphQL client must implement for node fetching.
type NodeFetcher interface {
	// FetchNodes runs query for ids with the given variables.
	FetchNodes(ctx context.Context, query string, ids []string, vars graphql.Variables) (*graphql.Result, error)
}

// Config holds orchestrator configuration.
type Config struct {
	// Query is the parameterized nodes query.
	Query string

	// PageSize is bound to PageSizeVariable on every request; zero omits it.
	PageSize         int
	PageSizeVariable string

	// CursorVariables maps a connection field name to the query variable
	// carrying its cursor. Unlisted fields use "<field>_cursor".
	CursorVariables map[string]string

	// MaxRounds bounds follow-up requests per node.
	MaxRounds int
}

// DefaultConfig returns the default configuration for query.
func DefaultConfig(query string) Config {
	return Config{
		Query:            query,
		PageSize:         250,
		PageSizeVariable: "first",
		MaxRounds:        10_000,
	}
}

// CursorVariable returns the variable name for a connection field.
func (c Config) CursorVariable(field string) string {
	if v, ok := c.CursorVariables[field]; ok && v != "" {
		return v
	}
	return field + "_cursor"
}

// BaseVariables returns the variables sent with every request.
func (c Config) BaseVariables() graphql.Variables {
	vars := graphql.Variables{}
	if c.PageSize > 0 && c.PageSizeVariable != "" {
		vars[c.PageSizeVariable] = c.PageSize
	}
	return vars
}

// tracked is the pagination state of one connection within a node.
type tracked struct {
	// conn is the accumulated connection inside the record.
	conn     record.Connection
	field    string
	variable string

	// scope binds each ancestor's cursor variable to the cursor that
	// reproduces the ancestor page holding this connection ("" = first page).
	scope map[string]string

	// path locates the connection inside a response fetched with scope.
	path record.Path

	// after is the cursor that fetched the most recent page ("" = first page).
	after string

	// cursor is the end cursor of the most recent page.
	cursor string
	seen   map[string]bool

	parent   *tracked
	children []*tracked
}

// pending is a subtree awaiting connection discovery.
type pending struct {
	root   any
	base   record.Path
	scope  map[string]string
	parent *tracked
}

// nodeState is the per-node cursor map.
type nodeState struct {
	id    string
	roots []*tracked
}

// Orchestrator completes nodes by draining their nested connections.
type Orchestrator struct {
	fetcher NodeFetcher
	config  Config
	logger  zerolog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(fetcher NodeFetcher, config Config, logger zerolog.Logger) *Orchestrator {
	if config.MaxRounds <= 0 {
		config.MaxRounds = DefaultConfig("").MaxRounds
	}
	return &Orchestrator{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// Config returns the orchestrator configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Complete drains every connection of node, which was fetched for id, and
// returns the complete record with the number of follow-up requests made.
// On error the partial record is discarded.
func (o *Orchestrator) Complete(ctx context.Context, id string, node *record.Object) (*record.CompleteRecord, int, error) {
	state := &nodeState{id: id}
	if err := o.discover(state, []pending{{root: node, scope: map[string]string{}}}); err != nil {
		return nil, 0, err
	}

	rounds := 0
	for {
		target := state.next()
		if target == nil {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, rounds, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if rounds >= o.config.MaxRounds {
			return nil, rounds, fmt.Errorf("%w: %s: exceeded %d rounds", ErrProtocolViolation, id, o.config.MaxRounds)
		}

		rounds++
		paginationRoundsTotal.Inc()
		if err := o.round(ctx, state, target); err != nil {
			return nil, rounds, err
		}
	}

	nodeRounds.Observe(float64(rounds))
	if rounds > 0 {
		o.logger.Debug().
			Str("id", id).
			Int("rounds", rounds).
			Msg("Node pagination complete")
	}
	return &record.CompleteRecord{ID: id, Node: node}, rounds, nil
}

// round fetches the next page of target and merges it into the record.
func (o *Orchestrator) round(ctx context.Context, state *nodeState, target *tracked) error {
	sent := target.cursor
	vars := o.variables(state, target)

	o.logger.Debug().
		Str("id", state.id).
		Str("connection", target.path.String()).
		Str("cursor", sent).
		Msg("Fetching next page")

	result, err := o.fetcher.FetchNodes(ctx, o.config.Query, []string{state.id}, vars)
	if err != nil {
		return fmt.Errorf("fetch %s page: %w", target.path, err)
	}
	pageNode, err := result.Node(state.id)
	if err != nil {
		return fmt.Errorf("%w: %s disappeared during pagination: %v", ErrProtocolViolation, state.id, err)
	}

	v, ok := target.path.Resolve(pageNode)
	if !ok {
		return fmt.Errorf("%w: %s: connection %s missing from page response", ErrProtocolViolation, state.id, target.path)
	}
	page, ok := record.AsConnection(v)
	if !ok {
		return fmt.Errorf("%w: %s: %s is no longer a connection", ErrProtocolViolation, state.id, target.path)
	}

	next := page.EndCursor()
	if page.HasNextPage() {
		switch {
		case next == "":
			return fmt.Errorf("%w: %s: %s reports a next page without an end cursor", ErrProtocolViolation, state.id, target.path)
		case next == sent:
			return fmt.Errorf("%w: %s: %s cursor did not advance from %q", ErrProtocolViolation, state.id, target.path, sent)
		case target.seen[next]:
			return fmt.Errorf("%w: %s: %s returned already seen cursor %q", ErrProtocolViolation, state.id, target.path, next)
		}
	}

	target.conn.AppendPage(page)
	target.after = sent
	target.cursor = next
	if next != "" {
		target.seen[next] = true
	}

	// Connections inside the new edges were fetched with the parent at this page.
	scope := withBinding(target.scope, target.variable, sent)
	work := make([]pending, 0, len(page.Edges()))
	for j, edge := range page.Edges() {
		work = append(work, pending{
			root:   record.EdgeNode(edge),
			base:   target.path.Append(record.Key("edges"), record.Index(j), record.Key("node")),
			scope:  scope,
			parent: target,
		})
	}
	return o.discover(state, work)
}

// discover registers every connection under the queued subtrees. Work is
// processed first-in first-out so siblings keep their response order.
func (o *Orchestrator) discover(state *nodeState, work []pending) error {
	for len(work) > 0 {
		item := work[0]
		work = work[1:]
		if item.root == nil {
			continue
		}

		var walkErr error
		record.Walk(item.root, func(rel record.Path, v any) bool {
			if walkErr != nil {
				return false
			}
			conn, ok := record.AsConnection(v)
			if !ok {
				return true
			}

			path := item.base.Append(rel...)
			t, err := o.track(state, conn, path, item.scope, item.parent)
			if err != nil {
				walkErr = err
				return false
			}

			childScope := withBinding(item.scope, t.variable, "")
			for i, edge := range conn.Edges() {
				work = append(work, pending{
					root:   record.EdgeNode(edge),
					base:   path.Append(record.Key("edges"), record.Index(i), record.Key("node")),
					scope:  childScope,
					parent: t,
				})
			}
			// Nested connections are reached through the queued edges.
			return false
		})
		if walkErr != nil {
			return walkErr
		}
	}
	return nil
}

// track validates a newly seen connection and links it into the tree.
func (o *Orchestrator) track(state *nodeState, conn record.Connection, path record.Path, scope map[string]string, parent *tracked) (*tracked, error) {
	field := fieldName(path)
	variable := o.config.CursorVariable(field)
	if _, clash := scope[variable]; clash {
		return nil, fmt.Errorf("%w: %s: cursor variable %q used at two nesting levels (%s)", ErrProtocolViolation, state.id, variable, path)
	}

	cursor := conn.EndCursor()
	if conn.HasNextPage() && cursor == "" {
		return nil, fmt.Errorf("%w: %s: %s reports a next page without an end cursor", ErrProtocolViolation, state.id, path)
	}

	t := &tracked{
		conn:     conn,
		field:    field,
		variable: variable,
		scope:    scope,
		path:     path,
		cursor:   cursor,
		seen:     map[string]bool{},
		parent:   parent,
	}
	if cursor != "" {
		t.seen[cursor] = true
	}

	if parent == nil {
		state.roots = append(state.roots, t)
	} else {
		parent.children = append(parent.children, t)
	}
	return t, nil
}

// next returns the first connection in pre-order that still has pages.
// Pre-order makes a parent drain before anything nested in its edges.
func (s *nodeState) next() *tracked {
	stack := make([]*tracked, 0, len(s.roots))
	for i := len(s.roots) - 1; i >= 0; i-- {
		stack = append(stack, s.roots[i])
	}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t.conn.HasNextPage() {
			return t
		}
		for i := len(t.children) - 1; i >= 0; i-- {
			stack = append(stack, t.children[i])
		}
	}
	return nil
}

// each visits all tracked connections in pre-order.
func (s *nodeState) each(visit func(t *tracked)) {
	stack := make([]*tracked, 0, len(s.roots))
	for i := len(s.roots) - 1; i >= 0; i-- {
		stack = append(stack, s.roots[i])
	}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(t)
		for i := len(t.children) - 1; i >= 0; i-- {
			stack = append(stack, t.children[i])
		}
	}
}

// variables builds the request for the next page of target:
//   - unrelated connections stay at the page they were last fetched at
//   - connections nested under target restart from their first page
//   - ancestors reproduce the page that holds target
//   - target itself advances to its end cursor
func (o *Orchestrator) variables(state *nodeState, target *tracked) graphql.Variables {
	vars := o.config.BaseVariables()

	related := map[*tracked]bool{target: true}
	for p := target.parent; p != nil; p = p.parent {
		related[p] = true
	}
	var descendants []*tracked
	stack := append([]*tracked(nil), target.children...)
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		related[t] = true
		descendants = append(descendants, t)
		stack = append(stack, t.children...)
	}

	reserved := map[string]bool{target.variable: true}
	for name := range target.scope {
		reserved[name] = true
	}
	for _, d := range descendants {
		reserved[d.variable] = true
	}

	state.each(func(t *tracked) {
		if related[t] || reserved[t.variable] {
			return
		}
		if _, set := vars[t.variable]; !set {
			vars[t.variable] = cursorValue(t.after)
		}
	})
	for _, d := range descendants {
		vars[d.variable] = nil
	}
	for name, cursor := range target.scope {
		vars[name] = cursorValue(cursor)
	}
	vars[target.variable] = target.cursor
	return vars
}

// withBinding returns a copy of scope with name bound to cursor.
func withBinding(scope map[string]string, name, cursor string) map[string]string {
	out := make(map[string]string, len(scope)+1)
	for k, v := range scope {
		out[k] = v
	}
	out[name] = cursor
	return out
}

// cursorValue maps the first-page cursor to an explicit null.
func cursorValue(cursor string) any {
	if cursor == "" {
		return nil
	}
	return cursor
}

// fieldName is the last object key on path.
func fieldName(path record.Path) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Index < 0 {
			return path[i].Key
		}
	}
	return ""
}
