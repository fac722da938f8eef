// Package game defines the operations peers exchange about a dice game:
// the operation record, its tagged payload variants, and the rules checked
// before a local proposal is accepted.
package game
