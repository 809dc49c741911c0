// Package fanout delivers real-time device and command events to
// WebSocket clients.
//
// Every connection is authenticated with a JWT before the upgrade;
// the token's claims carry the caller's home scope. Sessions subscribe
// to scopes of the form device:{id}, home:{id}, or user:{id}. A
// subscription outside the caller's authorization is rejected with an
// error frame, but the session stays open and its other subscriptions
// remain intact.
//
// Delivery is best-effort and at-most-once: each session has a bounded
// send buffer, and a push to a session whose buffer is full is
// dropped rather than blocking the hub.
package fanout
