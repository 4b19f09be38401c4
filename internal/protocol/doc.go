// Package protocol defines the documents exchanged between the coordinator,
// the workers and the observer of the SMS alert simulator.
//
// # Overview
//
// Every connection between two roles carries exactly one JSON document and
// then closes. There is no framing beyond end-of-stream and no reply
// channel, so the set of documents below is the entire protocol:
//
//	type       fields                              direction
//	register   sender_port                         worker      → coordinator
//	sendmsg    msg_id, phone, msg                  coordinator → worker
//	finished   sender_port, success, send_time     worker      → coordinator
//	status     (none)                              observer    → coordinator
//	status     num_sent, num_fail, total_time      coordinator → observer
//	start      (none)                              coordinator → observer
//	shutdown   (none)                              any         → any
//
// # Typed messages
//
// Documents are decoded once, at the transport boundary, into one of the
// concrete Message types (Register, SendMsg, Finished, StatusRequest,
// StatusReport, Start, Shutdown). Anything that does not match a known
// variant with all of its required fields is rejected by Decode; callers
// drop such payloads without telling the peer.
//
// The two status documents share the "status" discriminator. A status
// document with none of the counters is a request, one with all three is a
// report, and anything in between is malformed.
//
// # Units
//
// send_time and total_time are integer milliseconds. The average latency is
// derived with truncating integer division, see package stats.
package protocol
