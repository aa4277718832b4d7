// Package gateway speaks the lobby wire protocol. It sits between the
// websocket transport and the roster: inbound frames become roster and
// player-state operations, roster notifications fan back out as frames to
// every connected client and as entries on the operational event feed.
package gateway

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quellen-dev/lobbyd/internal/events"
	"github.com/quellen-dev/lobbyd/internal/game"
	"github.com/quellen-dev/lobbyd/internal/roster"
	"github.com/quellen-dev/lobbyd/pkg/logger"
	"github.com/quellen-dev/lobbyd/pkg/metrics"
	"github.com/quellen-dev/lobbyd/pkg/validator"
)

// Sender is the slice of the transport hub the gateway drives. The hub
// delivers payloads it was handed verbatim; the gateway owns their shape.
type Sender interface {
	Send(id roster.ClientID, payload []byte) bool
	Broadcast(payload []byte)
	BroadcastExcept(except roster.ClientID, payload []byte)
	Close(id roster.ClientID)
	CloseAll()
	MarkEstablished(id roster.ClientID)
}

type playerEvent struct {
	ClientID uint64     `json:"client_id"`
	Player   PlayerView `json:"player"`
}

type playerLeftEvent struct {
	ClientID uint64 `json:"client_id"`
	PlayerID string `json:"player_id"`
}

type sessionEvent struct {
	PlayerCount int `json:"player_count"`
}

// Gateway orchestrates the lobby. It implements transport.Handler for the
// inbound direction and roster.Listener for the outbound one.
type Gateway struct {
	table  *roster.Table[*game.PlayerState]
	events *events.Hub
	sender Sender
	log    *zap.Logger

	newPlayerID func() string
}

// New wires a gateway to its roster table and event feed. The transport is
// attached separately because hub and gateway reference each other.
func New(table *roster.Table[*game.PlayerState], feed *events.Hub) *Gateway {
	g := &Gateway{
		table:       table,
		events:      feed,
		log:         logger.WithModule("gateway"),
		newPlayerID: uuid.NewString,
	}
	table.Subscribe(g)
	return g
}

// AttachSender hands the gateway its transport. Must be called before the
// transport starts accepting connections.
func (g *Gateway) AttachSender(sender Sender) {
	g.sender = sender
}

// HandleConnect is called by the transport for every accepted socket. The
// connection stays anonymous until a join frame arrives.
func (g *Gateway) HandleConnect(client roster.ClientID, remoteAddr string) {
	g.log.Debug("client connected",
		zap.Uint64("client", uint64(client)),
		zap.String("remote_addr", remoteAddr))
}

// HandleMessage dispatches one inbound frame.
func (g *Gateway) HandleMessage(client roster.ClientID, payload []byte) {
	var frame inbound
	if err := json.Unmarshal(payload, &frame); err != nil {
		metrics.MessagesReceived.WithLabelValues("invalid").Inc()
		g.log.Debug("undecodable frame", zap.Uint64("client", uint64(client)), zap.Error(err))
		g.push(client, errorFrame{Type: frameError, Code: codeInvalidPayload, Message: "frame is not valid JSON"})
		return
	}

	switch frame.Type {
	case frameJoin:
		metrics.MessagesReceived.WithLabelValues(frameJoin).Inc()
		g.handleJoin(client, frame)
	case frameSpawn:
		metrics.MessagesReceived.WithLabelValues(frameSpawn).Inc()
		g.handleSpawn(client, frame)
	case frameMove:
		metrics.MessagesReceived.WithLabelValues(frameMove).Inc()
		g.handleMove(client, frame)
	case frameLeave:
		metrics.MessagesReceived.WithLabelValues(frameLeave).Inc()
		g.sender.Close(client)
	default:
		metrics.MessagesReceived.WithLabelValues("unknown").Inc()
		g.push(client, errorFrame{Type: frameError, Code: codeUnknownType, Message: "unsupported frame type"})
	}
}

// HandleDisconnect releases the connection's roster binding. Whether the
// player's record survives is the roster's call based on session state.
func (g *Gateway) HandleDisconnect(client roster.ClientID) {
	playerID, joined := g.table.PlayerOf(client)
	phase := "lobby"
	if g.table.SessionActive() {
		phase = "session"
	}

	g.table.Disconnect(client)
	metrics.Disconnects.WithLabelValues(phase).Inc()
	metrics.RosterSize.Set(float64(g.table.Len()))

	if !joined {
		return
	}

	g.log.Info("player disconnected",
		zap.Uint64("client", uint64(client)),
		zap.String("player_id", playerID),
		zap.String("phase", phase))

	g.fanOut(client, playerLeftFrame{Type: framePlayerLeft, PlayerID: playerID})
	g.events.Publish(events.TypePlayerLeft, playerLeftEvent{ClientID: uint64(client), PlayerID: playerID})
}

func (g *Gateway) handleJoin(client roster.ClientID, frame inbound) {
	req := joinRequest{PlayerID: frame.PlayerID, Name: frame.Name}
	if err := validator.ValidateStruct(req); err != nil {
		metrics.Admissions.WithLabelValues("rejected").Inc()
		g.push(client, errorFrame{Type: frameError, Code: codeInvalidPayload, Message: err.Error()})
		return
	}

	playerID := req.PlayerID
	if playerID == "" {
		playerID = g.newPlayerID()
	}

	record, reconnected, err := g.table.Admit(client, playerID, game.NewPlayerState(req.Name))
	switch {
	case errors.Is(err, roster.ErrDuplicateIdentity):
		metrics.Admissions.WithLabelValues("duplicate").Inc()
		g.log.Warn("duplicate join refused",
			zap.Uint64("client", uint64(client)),
			zap.String("player_id", playerID))
		g.push(client, errorFrame{Type: frameError, Code: codeDuplicateIdentity, Message: "player is already connected"})
		g.sender.Close(client)
		return
	case errors.Is(err, roster.ErrClientBound):
		metrics.Admissions.WithLabelValues("rejected").Inc()
		g.push(client, errorFrame{Type: frameError, Code: codeAlreadyJoined, Message: "connection already joined"})
		return
	case err != nil:
		metrics.Admissions.WithLabelValues("rejected").Inc()
		g.push(client, errorFrame{Type: frameError, Code: codeInvalidPayload, Message: err.Error()})
		return
	}

	outcome := "new"
	if reconnected {
		outcome = "reconnected"
	}
	metrics.Admissions.WithLabelValues(outcome).Inc()
	metrics.RosterSize.Set(float64(g.table.Len()))

	g.sender.MarkEstablished(client)
	g.log.Info("player joined",
		zap.Uint64("client", uint64(client)),
		zap.String("player_id", playerID),
		zap.String("name", record.Name),
		zap.Bool("reconnected", reconnected))

	g.push(client, welcomeFrame{
		Type:          frameWelcome,
		ClientID:      uint64(client),
		PlayerID:      playerID,
		Reconnected:   reconnected,
		SessionActive: g.table.SessionActive(),
		Roster:        g.RosterView(),
	})
}

func (g *Gateway) handleSpawn(client roster.ClientID, frame inbound) {
	pos := game.Vector3{}
	if frame.Position != nil {
		pos = *frame.Position
	}
	if !g.mutateState(client, func(state *game.PlayerState) { state.Spawn(pos) }) {
		g.push(client, errorFrame{Type: frameError, Code: codeNotJoined, Message: "join before spawning"})
	}
}

func (g *Gateway) handleMove(client roster.ClientID, frame inbound) {
	if frame.Position == nil {
		g.push(client, errorFrame{Type: frameError, Code: codeInvalidPayload, Message: "move frame needs a position"})
		return
	}

	pos := *frame.Position
	yaw := frame.Yaw
	if !g.mutateState(client, func(state *game.PlayerState) { state.ApplyMovement(pos, yaw) }) {
		g.push(client, errorFrame{Type: frameError, Code: codeNotJoined, Message: "join before moving"})
	}
}

// mutateState applies fn to a copy of the client's stored record and writes
// the copy back through SetRecord, so a record already handed to readers is
// never written again. Frames for one client arrive on one goroutine and
// admission uniqueness keeps the identity on one connection, so the
// copy-mutate-store sequence cannot lose updates. Reports false when client
// has no bound player.
func (g *Gateway) mutateState(client roster.ClientID, fn func(*game.PlayerState)) bool {
	var next *game.PlayerState
	if !g.table.ViewClient(client, func(state *game.PlayerState) { next = state.Clone() }) {
		return false
	}
	fn(next)
	g.storeRecord(client, next)
	return true
}

// storeRecord writes the mutated record back through the roster so the
// record-updated notification fires. A failure here means the connection
// lost its binding mid-frame, which is not worth more than a debug line.
func (g *Gateway) storeRecord(client roster.ClientID, record *game.PlayerState) {
	if err := g.table.SetRecord(client, record); err != nil {
		g.log.Debug("dropping state write from unbound client",
			zap.Uint64("client", uint64(client)), zap.Error(err))
	}
}

// StartSession begins a round; disconnects start preserving records.
func (g *Gateway) StartSession() {
	g.table.StartSession()
}

// EndSession closes the round, dropping disconnected players and resetting
// the survivors' round state.
func (g *Gateway) EndSession() {
	g.table.EndSession()
}

// ResetServer tears down every connection and empties the roster, returning
// the process to its freshly started state.
func (g *Gateway) ResetServer() {
	g.log.Info("server reset requested")
	g.fanOut(0, sessionFrame{Type: frameServerReset})
	if g.sender != nil {
		g.sender.CloseAll()
	}
	g.table.Reset()

	metrics.SessionTransitions.WithLabelValues("reset").Inc()
	metrics.RosterSize.Set(0)
	g.events.Publish(events.TypeServerReset, nil)
}

// RosterView projects the current roster for clients and the admin API. The
// projection runs under the table's lock so it cannot tear against concurrent
// record writes.
func (g *Gateway) RosterView() []PlayerView {
	views := make([]PlayerView, 0, g.table.Len())
	g.table.ViewEach(func(playerID string, state *game.PlayerState) {
		views = append(views, viewOf(playerID, state))
	})
	return views
}

// Player returns one player's view by durable id.
func (g *Gateway) Player(playerID string) (PlayerView, bool) {
	return g.playerView(playerID)
}

func (g *Gateway) playerView(playerID string) (PlayerView, bool) {
	var view PlayerView
	ok := g.table.ViewPlayer(playerID, func(state *game.PlayerState) {
		view = viewOf(playerID, state)
	})
	return view, ok
}

// SessionState reports whether a session is running and how many players
// hold live connections.
func (g *Gateway) SessionState() (bool, int) {
	view := g.Session()
	return view.Active, view.ConnectedCount
}

// Session summarizes lobby state for the admin API.
func (g *Gateway) Session() SessionView {
	views := g.RosterView()
	connected := 0
	for _, view := range views {
		if view.Connected {
			connected++
		}
	}
	return SessionView{
		Active:         g.table.SessionActive(),
		PlayerCount:    len(views),
		ConnectedCount: connected,
		Players:        views,
	}
}

// SessionStarted implements roster.Listener.
func (g *Gateway) SessionStarted() {
	g.log.Info("session started")
	metrics.SessionTransitions.WithLabelValues("started").Inc()
	g.fanOut(0, sessionFrame{Type: frameSessionStarted})
	g.events.Publish(events.TypeSessionStarted, nil)
}

// SessionEnded implements roster.Listener. The surviving roster is included
// so clients can resync their reinitialized state.
func (g *Gateway) SessionEnded() {
	g.log.Info("session ended", zap.Int("survivors", g.table.Len()))
	metrics.SessionTransitions.WithLabelValues("ended").Inc()
	metrics.RosterSize.Set(float64(g.table.Len()))
	g.fanOut(0, sessionFrame{Type: frameSessionEnded, Roster: g.RosterView()})
	g.events.Publish(events.TypeSessionEnded, sessionEvent{PlayerCount: g.table.Len()})
}

// RecordAdmitted implements roster.Listener. The view is projected from the
// stored record under the table's lock rather than from the callback
// argument, whose fields other operations may be stamping concurrently.
func (g *Gateway) RecordAdmitted(client roster.ClientID, playerID string, _ *game.PlayerState) {
	view, ok := g.playerView(playerID)
	if !ok {
		return
	}
	g.fanOut(client, playerFrame{Type: framePlayerJoined, Player: view})
	g.events.Publish(events.TypePlayerJoined, playerEvent{ClientID: uint64(client), Player: view})
}

// RecordUpdated implements roster.Listener.
func (g *Gateway) RecordUpdated(client roster.ClientID, _ *game.PlayerState) {
	playerID, ok := g.table.PlayerOf(client)
	if !ok {
		return
	}
	view, ok := g.playerView(playerID)
	if !ok {
		return
	}
	g.fanOut(client, playerFrame{Type: framePlayerUpdated, Player: view})
	g.events.Publish(events.TypePlayerUpdated, playerEvent{ClientID: uint64(client), Player: view})
}

func (g *Gateway) push(client roster.ClientID, frame interface{}) {
	if g.sender == nil {
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		g.log.Error("encoding frame", zap.Error(err))
		return
	}
	g.sender.Send(client, payload)
}

// fanOut broadcasts a frame to every client, or to all but one when except
// is a real id. Client ids start at one, so zero means nobody is excluded.
func (g *Gateway) fanOut(except roster.ClientID, frame interface{}) {
	if g.sender == nil {
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		g.log.Error("encoding frame", zap.Error(err))
		return
	}
	if except == 0 {
		g.sender.Broadcast(payload)
		return
	}
	g.sender.BroadcastExcept(except, payload)
}
