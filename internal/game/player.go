// Package game defines the participant payload lobbyd stores per player. The
// roster only sees the binding surface (connected flag, owning client); the
// rest is gameplay state the gateway reads and writes on behalf of clients.
package game

import (
	"time"

	"github.com/quellen-dev/lobbyd/internal/roster"
)

var timeNow = time.Now

// Vector3 is a position in world space.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PlayerState carries everything lobbyd knows about one player. Name and
// JoinedAt are identity-scoped and survive across rounds; Spawned, Position,
// Yaw and UpdatedAt are round-scoped and reset when a session ends.
type PlayerState struct {
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`

	Spawned   bool      `json:"spawned"`
	Position  Vector3   `json:"position"`
	Yaw       float64   `json:"yaw"`
	UpdatedAt time.Time `json:"updated_at"`

	connected bool
	owner     roster.ClientID
}

// NewPlayerState returns the initial state for a first-time player.
func NewPlayerState(name string) *PlayerState {
	now := timeNow()
	return &PlayerState{
		Name:      name,
		JoinedAt:  now,
		UpdatedAt: now,
	}
}

// Clone returns a copy sharing nothing with the original, for callers that
// mutate state without touching the stored record in place.
func (p *PlayerState) Clone() *PlayerState {
	cp := *p
	return &cp
}

// Connected reports whether the owning player has a live connection.
func (p *PlayerState) Connected() bool { return p.connected }

// SetConnected flips the live-connection flag. Managed by the roster.
func (p *PlayerState) SetConnected(v bool) { p.connected = v }

// OwnerClient returns the client id most recently bound to this player.
func (p *PlayerState) OwnerClient() roster.ClientID { return p.owner }

// SetOwnerClient records the owning client id. Managed by the roster.
func (p *PlayerState) SetOwnerClient(id roster.ClientID) { p.owner = id }

// Reinitialize clears round-scoped state at session end while keeping the
// player's identity intact.
func (p *PlayerState) Reinitialize() {
	p.Spawned = false
	p.Position = Vector3{}
	p.Yaw = 0
	p.UpdatedAt = timeNow()
}

// Spawn places the player into the running round at the given position.
func (p *PlayerState) Spawn(pos Vector3) {
	p.Spawned = true
	p.Position = pos
	p.UpdatedAt = timeNow()
}

// ApplyMovement updates the player's position and facing.
func (p *PlayerState) ApplyMovement(pos Vector3, yaw float64) {
	p.Position = pos
	p.Yaw = yaw
	p.UpdatedAt = timeNow()
}
