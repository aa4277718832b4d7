package roster

import (
	"fmt"
	"sort"
	"sync"
)

// Table is the authoritative binding between durable player ids and live
// client ids. Two maps are kept in lockstep under one mutex: records keyed by
// player id, and owners mapping each live client id back to the player id it
// carries. Every mutation goes through Table methods so the maps can never
// drift apart.
//
// Stored records are shared by reference with callers and listeners, and the
// table writes to them under its lock: owner/connected stamping on admission,
// disconnect and SetRecord, reinitialization at session end. Admission
// uniqueness keeps at most one caller-side writer per record, but it does not
// make unlocked field reads safe against those table-side writes. Callers
// therefore read record fields through the View methods, which run a
// projection while the lock is held, and mutate payload fields on a copy that
// is written back via SetRecord rather than in place.
type Table[R Record] struct {
	mu      sync.RWMutex
	records map[string]R
	owners  map[ClientID]string
	active  bool

	listenerMu sync.RWMutex
	listeners  []Listener[R]
}

// NewTable returns an empty table with no session in progress.
func NewTable[R Record]() *Table[R] {
	return &Table[R]{
		records: make(map[string]R),
		owners:  make(map[ClientID]string),
	}
}

// Subscribe registers a listener for lifecycle notifications. Listeners
// cannot be removed; subscribe once during wiring.
func (t *Table[R]) Subscribe(listener Listener[R]) {
	if listener == nil {
		return
	}
	t.listenerMu.Lock()
	t.listeners = append(t.listeners, listener)
	t.listenerMu.Unlock()
}

// Admit binds playerID to client. A fresh record is stored for a first-time
// player; a returning player resumes their retained record and the stale
// owner mapping from their previous connection is retired. Either way the
// effective record is stamped with the new owner and marked connected, and
// reconnected reports whether prior state was resumed.
//
// Admission fails with ErrDuplicateIdentity when the player id is already
// connected elsewhere, and with ErrClientBound when the client id already
// carries an identity. Failed admissions leave the table untouched.
func (t *Table[R]) Admit(client ClientID, playerID string, fresh R) (record R, reconnected bool, err error) {
	var zero R
	if playerID == "" {
		return zero, false, fmt.Errorf("roster: admit: player id is required")
	}

	t.mu.Lock()
	if bound, ok := t.owners[client]; ok {
		t.mu.Unlock()
		return zero, false, fmt.Errorf("%w: client %d already carries player %q", ErrClientBound, client, bound)
	}
	existing, known := t.records[playerID]
	if known && existing.Connected() {
		owner := existing.OwnerClient()
		t.mu.Unlock()
		return zero, false, fmt.Errorf("%w: player %q held by client %d", ErrDuplicateIdentity, playerID, owner)
	}

	record = fresh
	if known {
		record = existing
		reconnected = true
		if prev := existing.OwnerClient(); prev != 0 && prev != client {
			if held, ok := t.owners[prev]; ok && held == playerID {
				delete(t.owners, prev)
			}
		}
	}
	record.SetOwnerClient(client)
	record.SetConnected(true)
	t.records[playerID] = record
	t.owners[client] = playerID
	t.mu.Unlock()

	t.emit(func(l Listener[R]) { l.RecordAdmitted(client, playerID, record) })
	return record, reconnected, nil
}

// IsDuplicate reports whether playerID is currently bound to a live
// connection. It answers from the same state Admit consults; callers that
// need the check and the admission to be atomic should just call Admit and
// inspect the error.
func (t *Table[R]) IsDuplicate(playerID string) bool {
	t.mu.RLock()
	record, ok := t.records[playerID]
	t.mu.RUnlock()
	return ok && record.Connected()
}

// Disconnect releases client's binding. While a session is active the record
// survives, marked disconnected so the player can resume it; between sessions
// the record is dropped with the binding. A client with no binding is a
// no-op: disconnect events may arrive duplicated or late, after a
// reconnection has already retired the mapping.
//
// The record is only touched if it still names client as its owner, so a
// straggling disconnect for a superseded connection can never clobber the
// state of the connection that took over.
func (t *Table[R]) Disconnect(client ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	playerID, ok := t.owners[client]
	if !ok {
		return
	}
	if t.active {
		if record, ok := t.records[playerID]; ok && record.OwnerClient() == client {
			record.SetConnected(false)
		}
		return
	}
	delete(t.owners, client)
	if record, ok := t.records[playerID]; ok && record.OwnerClient() == client {
		delete(t.records, playerID)
	}
}

// PlayerOf returns the player id bound to client, if any.
func (t *Table[R]) PlayerOf(client ClientID) (string, bool) {
	t.mu.RLock()
	playerID, ok := t.owners[client]
	t.mu.RUnlock()
	return playerID, ok
}

// RecordByClient resolves client to its bound player's record.
func (t *Table[R]) RecordByClient(client ClientID) (R, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	playerID, ok := t.owners[client]
	if !ok {
		var zero R
		return zero, false
	}
	record, ok := t.records[playerID]
	return record, ok
}

// RecordByPlayer returns the stored record for playerID, connected or not.
func (t *Table[R]) RecordByPlayer(playerID string) (R, bool) {
	t.mu.RLock()
	record, ok := t.records[playerID]
	t.mu.RUnlock()
	return record, ok
}

// SetRecord replaces the stored record for the player bound to client. The
// incoming record is stamped with the owning client and marked connected
// before it is stored, keeping the table-owned fields authoritative
// regardless of what the caller left in them. Fails with ErrUnknownClient
// when client carries no identity.
func (t *Table[R]) SetRecord(client ClientID, record R) error {
	t.mu.Lock()
	playerID, ok := t.owners[client]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: client %d", ErrUnknownClient, client)
	}
	record.SetOwnerClient(client)
	record.SetConnected(true)
	t.records[playerID] = record
	t.mu.Unlock()

	t.emit(func(l Listener[R]) { l.RecordUpdated(client, record) })
	return nil
}

// StartSession marks a session as in progress, switching Disconnect to its
// retain-on-disconnect behavior. Safe to call while already active; every
// call notifies listeners.
func (t *Table[R]) StartSession() {
	t.mu.Lock()
	t.active = true
	t.mu.Unlock()

	t.emit(func(l Listener[R]) { l.SessionStarted() })
}

// EndSession closes the current session. Records whose player is no longer
// connected are dropped along with any binding they still hold; records with
// a live connection survive and have their round-scoped state reinitialized.
// Safe to call while no session is active.
func (t *Table[R]) EndSession() {
	t.mu.Lock()
	for playerID, record := range t.records {
		if record.Connected() {
			continue
		}
		if owner := record.OwnerClient(); owner != 0 {
			if held, ok := t.owners[owner]; ok && held == playerID {
				delete(t.owners, owner)
			}
		}
		delete(t.records, playerID)
	}
	for _, record := range t.records {
		record.Reinitialize()
	}
	t.active = false
	t.mu.Unlock()

	t.emit(func(l Listener[R]) { l.SessionEnded() })
}

// Reset clears every binding and record and marks no session in progress,
// returning the table to its initial state. Intended for server teardown and
// administrative resets; listeners are not notified.
func (t *Table[R]) Reset() {
	t.mu.Lock()
	t.records = make(map[string]R)
	t.owners = make(map[ClientID]string)
	t.active = false
	t.mu.Unlock()
}

// SessionActive reports whether a session is in progress.
func (t *Table[R]) SessionActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// Len returns the number of stored records, connected or not.
func (t *Table[R]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Clients returns the client ids currently carrying an identity.
func (t *Table[R]) Clients() []ClientID {
	t.mu.RLock()
	clients := make([]ClientID, 0, len(t.owners))
	for client := range t.owners {
		clients = append(clients, client)
	}
	t.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients
}

// ViewClient runs view with the record bound to client while the read lock
// is held, so the projection cannot race the table's own record writes.
// Reports false without calling view when client carries no identity. view
// must not call back into the table.
func (t *Table[R]) ViewClient(client ClientID, view func(record R)) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	playerID, ok := t.owners[client]
	if !ok {
		return false
	}
	record, ok := t.records[playerID]
	if !ok {
		return false
	}
	view(record)
	return true
}

// ViewPlayer is ViewClient keyed by player id.
func (t *Table[R]) ViewPlayer(playerID string, view func(record R)) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.records[playerID]
	if !ok {
		return false
	}
	view(record)
	return true
}

// ViewEach runs view for every stored record in player-id order under the
// read lock. view must not call back into the table.
func (t *Table[R]) ViewEach(view func(playerID string, record R)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.records))
	for playerID := range t.records {
		ids = append(ids, playerID)
	}
	sort.Strings(ids)
	for _, playerID := range ids {
		view(playerID, t.records[playerID])
	}
}

// Snapshot returns the stored entries ordered by player id. The entries share
// the live records; callers that may race concurrent mutators should project
// what they need through ViewEach instead.
func (t *Table[R]) Snapshot() []Entry[R] {
	t.mu.RLock()
	entries := make([]Entry[R], 0, len(t.records))
	for playerID, record := range t.records {
		entries = append(entries, Entry[R]{
			PlayerID: playerID,
			Client:   record.OwnerClient(),
			Record:   record,
		})
	}
	t.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].PlayerID < entries[j].PlayerID })
	return entries
}

func (t *Table[R]) emit(fn func(Listener[R])) {
	t.listenerMu.RLock()
	listeners := make([]Listener[R], len(t.listeners))
	copy(listeners, t.listeners)
	t.listenerMu.RUnlock()

	for _, l := range listeners {
		fn(l)
	}
}
