// Package oplog provides the bounded, insertion-ordered history of applied
// operations. The log is diagnostic: it records local application order,
// serves catch-up requests, and is pruned by age. It is not the source of
// truth for game state.
package oplog
