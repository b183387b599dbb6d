// Package pager drains every nested connection of fetched nodes and drives
// the batch pipeline from ID source to output log.
//
// A nodes query returns the first page of each connection in a node, for
// example an order's agreements and each agreement's sales. The orchestrator
// issues follow-up requests for that single node, passing the end cursor of
// the connection being drained, until no connection reports hasNextPage.
//
// Example usage:
//
//	orch := pager.NewOrchestrator(gqlClient, pager.Config{Query: query, PageSize: 250}, logger)
//	runner := pager.NewRunner(reader, gqlClient, orch, sink, failures, logger)
//	summary, err := runner.Run(ctx)
//
// The orchestrator:
//   - Tracks connections as a tree in response order
//   - Drains a parent connection before any connection nested in its edges
//   - Re-requests the parent's page when draining a child, so the child is found at a known path
//   - Holds unrelated cursors at their last-known position
//   - Fails the node with ErrProtocolViolation when a cursor stops advancing
//
// The runner processes one batch at a time. A failed batch request falls
// back to one request per ID so a single bad ID cannot sink its batch-mates.
package pager
