// Package sessions persists OAuth-backed MCP client sessions in a shared
// key-value store and rebuilds connection clients from them on demand.
//
// # Records
//
// Each session is a single JSON Record stored under "{prefix}{sessionID}"
// with a sliding TTL: every write sets it and every read refreshes it. A
// record that is absent from the store is indistinguishable from one that
// never existed.
//
// # Lifecycle
//
// The State of a session is derived from which fields the record carries:
//
//	Created      no client registration, verifier or tokens
//	Registering  client information stored
//	Authorizing  PKCE verifier stored, waiting for the callback
//	Active       tokens stored
//	Absent       no record
//
// # Rehydration
//
// Store.GetClient loads a record and builds a fresh mcpclient.Client and
// Provider pair from it. Mid-flow sessions tolerate an authorization-required
// connect failure so the callback can still call FinishAuth; token-bearing
// sessions connect, write the stored credentials back through the provider to
// seed its in-memory mirrors, and reconnect.
//
// # Concurrency
//
// No lock is taken per session. Concurrent writers race on the store and the
// last write wins, which is acceptable because refreshed tokens only ever
// supersede older ones.
package sessions
