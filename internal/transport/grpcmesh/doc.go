// Package grpcmesh is a full-mesh transport over gRPC. Every node serves
// the gamesync.mesh.v1.Mesh service plus the standard health service, and
// delivers to each peer from a dedicated worker with a bounded queue and
// exponential-backoff retries, so Broadcast and Send never block the
// caller.
//
// The service has a single unary method,
//
//	rpc Deliver(google.protobuf.BytesValue) returns (google.protobuf.Empty)
//
// whose payload is an opaque encoded message.
package grpcmesh
