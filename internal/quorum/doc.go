// Package quorum tracks operations that were applied optimistically and are
// waiting for acknowledgments from a majority of the known participants.
package quorum
