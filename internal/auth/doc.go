// Package auth provides JWT-based authentication for the Hearth gateway.
//
// Access tokens are HS256-signed and validated by signature only, so
// every request and WebSocket upgrade is authenticated without a
// database hit. Claims carry the caller's home scope: the set of home
// IDs the token grants access to. Device and event visibility is
// filtered against that scope by the API layer and the fanout hub.
package auth
