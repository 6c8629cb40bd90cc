// Package sessions defines the pairing-session abstraction shared by the
// relay engine and its transports. A session pairs a sender and a receiver
// under a short-lived numeric one-time code (OTP); the Store interface
// abstracts where session records live.
//
// Layers & Roles
//
//	Transport -> accepts connections, decodes frames, signals open/close
//	Engine    -> routes typed messages between the two peers of a session
//	Store     -> durability & coordination for session records
//
// Implementations
//
//	memoryhost : in-memory reference used for tests / single-process servers
//	redishost  : Redis backed implementation for multi-instance deployments
//
// A Store never holds transport handles; sessions reference peers only by
// client identifier, decoupling session lifetime from connection lifetime.
package sessions
