package gateway

import (
	"time"

	"github.com/quellen-dev/lobbyd/internal/game"
)

// Inbound frame types.
const (
	frameJoin  = "join"
	frameSpawn = "spawn"
	frameMove  = "move"
	frameLeave = "leave"
)

// Outbound frame types.
const (
	frameWelcome        = "welcome"
	frameError          = "error"
	framePlayerJoined   = "player_joined"
	framePlayerUpdated  = "player_updated"
	framePlayerLeft     = "player_left"
	frameSessionStarted = "session_started"
	frameSessionEnded   = "session_ended"
	frameServerReset    = "server_reset"
)

// Error codes carried in error frames.
const (
	codeInvalidPayload    = "INVALID_PAYLOAD"
	codeDuplicateIdentity = "DUPLICATE_IDENTITY"
	codeAlreadyJoined     = "ALREADY_JOINED"
	codeNotJoined         = "NOT_JOINED"
	codeUnknownType       = "UNKNOWN_TYPE"
)

// inbound is the single envelope clients send; Type selects which of the
// remaining fields matter.
type inbound struct {
	Type     string        `json:"type"`
	PlayerID string        `json:"player_id,omitempty"`
	Name     string        `json:"name,omitempty"`
	Position *game.Vector3 `json:"position,omitempty"`
	Yaw      float64       `json:"yaw,omitempty"`
}

// joinRequest is the validated shape of a join frame. PlayerID is absent on
// first contact and must be the previously issued id on return visits.
type joinRequest struct {
	PlayerID string `json:"player_id" validate:"omitempty,uuid"`
	Name     string `json:"name" validate:"required,max=32,playername"`
}

// PlayerView is the read-only projection of a player shared with clients and
// the admin API.
type PlayerView struct {
	PlayerID  string       `json:"player_id"`
	Name      string       `json:"name"`
	Connected bool         `json:"connected"`
	Spawned   bool         `json:"spawned"`
	Position  game.Vector3 `json:"position"`
	Yaw       float64      `json:"yaw"`
	JoinedAt  time.Time    `json:"joined_at"`
}

// SessionView summarizes lobby state for the admin API.
type SessionView struct {
	Active         bool         `json:"active"`
	PlayerCount    int          `json:"player_count"`
	ConnectedCount int          `json:"connected_count"`
	Players        []PlayerView `json:"players"`
}

type welcomeFrame struct {
	Type          string       `json:"type"`
	ClientID      uint64       `json:"client_id"`
	PlayerID      string       `json:"player_id"`
	Reconnected   bool         `json:"reconnected"`
	SessionActive bool         `json:"session_active"`
	Roster        []PlayerView `json:"roster"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type playerFrame struct {
	Type   string     `json:"type"`
	Player PlayerView `json:"player"`
}

type playerLeftFrame struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
}

type sessionFrame struct {
	Type   string       `json:"type"`
	Roster []PlayerView `json:"roster,omitempty"`
}

func viewOf(playerID string, state *game.PlayerState) PlayerView {
	return PlayerView{
		PlayerID:  playerID,
		Name:      state.Name,
		Connected: state.Connected(),
		Spawned:   state.Spawned,
		Position:  state.Position,
		Yaw:       state.Yaw,
		JoinedAt:  state.JoinedAt,
	}
}
