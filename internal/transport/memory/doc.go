// Package memory provides an in-process message bus that behaves like an
// unreliable network: deliveries can be dropped, duplicated and delayed
// (and therefore reordered), and nodes can be cut off and healed. It backs
// the integration tests and the simulate command.
package memory
