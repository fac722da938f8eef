// Package syncer implements the Synchronizer: the single owner of a node's
// vector clock, operation log, replay timeline, pending tracker and
// participant table.
//
// Everything that mutates that state (Propose, inbound messages and the two
// periodic ticks) runs under one mutex held only for the duration of the
// handler. Outbound messages are queued while the mutex is held and handed
// to the Network after it is released, so a slow transport never stalls
// the node. The current snapshot is published through an atomic pointer and
// can be read from any goroutine without locking.
//
// Thread-safety model:
//   - Propose, Connect, Disconnect, Close: safe from any goroutine
//   - State, Subscribe: safe from any goroutine, never block on the actor
//   - Participants, Pending, History: safe, take the actor lock briefly
package syncer
