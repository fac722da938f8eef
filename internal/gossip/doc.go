// Package gossip keeps the table of remote participants learned from
// heartbeats: when each was last seen, a smoothed latency estimate, and a
// simple Alive/Suspect status used to drop peers that went quiet.
//
// The local node is never a participant. Quorum sizes are computed from
// Count, so a participant that is forgotten stops counting towards the
// majority.
package gossip
