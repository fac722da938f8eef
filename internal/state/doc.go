// Package state materializes game operations into immutable snapshots.
//
// A Snapshot is never modified in place: Apply folds one operation and
// returns a new value. A Timeline keeps the recent operations in a causal
// order (a linear extension of happened-before, broken by clock key,
// origin and ID) so nodes that receive the same operations in different
// orders publish identical snapshots.
package state
