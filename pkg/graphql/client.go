package graphql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/gql-node-pager/pkg/idsource"
	"github.com/Sternrassler/gql-node-pager/pkg/record"
	"github.com/Sternrassler/gql-node-pager/pkg/transport"
	"github.com/rs/zerolog"
)

// DefaultIDsVariable is the query variable that receives the ID list.
const DefaultIDsVariable = "id"

// Result is the outcome of one nodes query.
type Result struct {
	// Nodes maps each found input ID to its node.
	Nodes map[string]*record.Object

	// Order lists the found IDs in request order.
	Order []string

	// NotFound lists IDs whose node came back null.
	NotFound []string
}

// Node returns the node for id, or ErrNodeNotFound.
func (r *Result) Node(id string) (*record.Object, error) {
	node, ok := r.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return node, nil
}

// Client builds nodes queries and parses their responses.
type Client struct {
	transport   *transport.Transport
	idsVariable string
	logger      zerolog.Logger
}

// NewClient creates a client sending through t.
func NewClient(t *transport.Transport, logger zerolog.Logger) *Client {
	return &Client{
		transport:   t,
		idsVariable: DefaultIDsVariable,
		logger:      logger,
	}
}

// SetIDsVariable changes the variable name carrying the ID list.
func (c *Client) SetIDsVariable(name string) {
	if name != "" {
		c.idsVariable = name
	}
}

// FetchNodes sends query with ids bound to the IDs variable plus vars.
//
// data.nodes must be a list aligned with ids. A null entry is reported in
// NotFound rather than treated as an empty success. GraphQL errors fail the
// whole call with a *ResponseError, except THROTTLED which is retried by
// the transport.
func (c *Client) FetchNodes(ctx context.Context, query string, ids []string, vars Variables) (*Result, error) {
	variables := vars.Clone()
	variables[c.idsVariable] = ids

	body, err := json.Marshal(Request{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var result *Result
	_, err = c.transport.Execute(ctx, func(ctx context.Context) (*transport.Response, error) {
		resp, err := c.transport.Send(ctx, body)
		if err != nil {
			return nil, err
		}
		result, err = c.parse(resp.Body, ids)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("requested", len(ids)).
		Int("found", len(result.Order)).
		Int("not_found", len(result.NotFound)).
		Msg("Fetched nodes")
	return result, nil
}

// parse validates the envelope and aligns data.nodes with ids.
func (c *Client) parse(body []byte, ids []string) (*Result, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if env.Extensions.Cost != nil {
		if tracker := c.transport.Tracker(); tracker != nil {
			tracker.UpdateFromCost(*env.Extensions.Cost)
		}
	}

	if len(env.Errors) > 0 {
		respErr := &ResponseError{Errors: env.Errors}
		if respErr.Throttled() {
			return nil, fmt.Errorf("%w: %v", transport.ErrRateLimited, respErr)
		}
		return nil, respErr
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedResponse)
	}
	data, err := record.Decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	dataObj, ok := data.(*record.Object)
	if !ok {
		return nil, fmt.Errorf("%w: data is not an object", ErrMalformedResponse)
	}
	rawNodes, ok := dataObj.Get("nodes")
	if !ok {
		return nil, fmt.Errorf("%w: missing data.nodes", ErrMalformedResponse)
	}
	nodes, ok := rawNodes.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: data.nodes is not a list", ErrMalformedResponse)
	}
	if len(nodes) != len(ids) {
		return nil, fmt.Errorf("%w: %d nodes for %d ids", ErrMalformedResponse, len(nodes), len(ids))
	}

	result := &Result{
		Nodes: make(map[string]*record.Object, len(ids)),
		Order: make([]string, 0, len(ids)),
	}
	for i, raw := range nodes {
		id := ids[i]
		if raw == nil {
			result.NotFound = append(result.NotFound, id)
			continue
		}
		node, ok := raw.(*record.Object)
		if !ok {
			return nil, fmt.Errorf("%w: node %d is not an object", ErrMalformedResponse, i)
		}
		if got := node.ID(); got != "" && !idsource.MatchesCheckpoint(id, got) {
			c.logger.Warn().
				Str("requested", id).
				Str("returned", got).
				Int("position", i).
				Msg("Node id does not match the requested id at its position")
		}
		if _, dup := result.Nodes[id]; !dup {
			result.Order = append(result.Order, id)
		}
		result.Nodes[id] = node
	}
	return result, nil
}
