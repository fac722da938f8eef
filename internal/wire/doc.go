// Package wire defines the JSON messages exchanged between synchronizers
// and maps game operations to and from their wire form.
//
// Every message is an envelope:
//
//	{"type": "...", "sender_id": "...", "payload": {...}, "timestamp": <unix ms>}
//
// The envelope timestamp is the sender's wall clock and is only used to
// estimate latency. Operation payloads carry their own timestamp.
package wire
