// Package conflict decides whether two game operations conflict and picks
// a deterministic winner among conflicting operations.
//
// Conflicts are type-specific rather than derived from vector clock
// concurrency alone: two dice rolls conflict when their application times
// fall within a configurable window, and two bets conflict when they come
// from the same node. Every node that sees the same conflict set chooses
// the same winner.
package conflict
