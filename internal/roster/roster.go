// Package roster tracks the binding between durable player identities and the
// transient client ids a transport assigns on each connect. It decides whether
// an incoming connection is brand new, a reconnection entitled to resume
// existing state, or a duplicate that must be refused, and it applies the
// session and server lifecycle rules that govern when state survives a
// disconnect.
//
// The package holds no opinion about what a participant record contains
// beyond the Record capability surface; payload fields belong to the caller.
// Player ids are taken at face value: verifying that a returning id really
// belongs to the same participant is an external prerequisite, not something
// this package attempts.
package roster

import "errors"

// ClientID is the transport-assigned, connection-scoped handle for a live
// connection. It is opaque to the roster and never reused while the owning
// connection is alive. The zero value is never a valid id.
type ClientID uint64

// Record is the capability surface a participant payload must expose so the
// table can manage its binding. Connected and the owning client id are owned
// by the table while the record is stored; everything else on the concrete
// type belongs to the caller.
type Record interface {
	Connected() bool
	SetConnected(bool)
	OwnerClient() ClientID
	SetOwnerClient(ClientID)

	// Reinitialize resets round-scoped fields in place when a session ends,
	// leaving identity-scoped fields untouched.
	Reinitialize()
}

// Listener receives lifecycle notifications. Callbacks run synchronously in
// the goroutine performing the triggering operation, after the mutation has
// committed and before the operation returns.
type Listener[R Record] interface {
	SessionStarted()
	SessionEnded()
	RecordAdmitted(client ClientID, playerID string, record R)
	RecordUpdated(client ClientID, record R)
}

// Entry pairs a stored record with its identity for snapshot consumers.
type Entry[R Record] struct {
	PlayerID string
	Client   ClientID
	Record   R
}

var (
	// ErrDuplicateIdentity indicates an admission for a player id that is
	// already bound to a live connection. The table is left unmodified; the
	// caller is expected to tear the new connection down.
	ErrDuplicateIdentity = errors.New("roster: identity already connected")

	// ErrClientBound indicates an admission on a client id that already
	// carries an identity. A connection binds at most one player id for its
	// lifetime.
	ErrClientBound = errors.New("roster: client already bound to an identity")

	// ErrUnknownClient indicates an operation referencing a client id with no
	// bound identity, typically because it disconnected or never joined.
	ErrUnknownClient = errors.New("roster: no identity bound to client")
)
