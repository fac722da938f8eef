// Package clock provides vector clock implementation for tracking causality
// between game operations. Each node owns one Clock; operation timestamps
// are VectorClock copies that can be compared for happened-before and
// turned into a canonical key for deterministic tie-breaking.
package clock
