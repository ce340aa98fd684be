package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lightcycle-arena/server/internal/arena"
	"github.com/lightcycle-arena/server/internal/auth"
	"github.com/lightcycle-arena/server/internal/broadcast"
	"github.com/lightcycle-arena/server/internal/grid"
	"github.com/lightcycle-arena/server/internal/middleware"
	"github.com/lightcycle-arena/server/internal/models"
	"github.com/lightcycle-arena/server/internal/replay"
	"github.com/lightcycle-arena/server/internal/session"
)

// inboundMessage is the wire shape of every client->server message
// (spec §6: "{type: string, payload: object}").
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Server is the single /ws entrypoint: it upgrades connections, registers
// sessions, and dispatches inbound messages to the lobby manager, session
// manager and replay store (component J), grounded on the teacher's
// readGameMessages/handleLobbyMessage dispatch-by-type switches merged
// into one router since this spec has one socket per peer.
type Server struct {
	arena    *arena.Manager
	sessions *session.Manager
	replays  *replay.Store
	fabric   *broadcast.Fabric
	issuer   *auth.Issuer
	log      *logrus.Logger
}

// NewServer wires a router over the given components.
func NewServer(arenaMgr *arena.Manager, sessions *session.Manager, replays *replay.Store, fabric *broadcast.Fabric, issuer *auth.Issuer, log *logrus.Logger) *Server {
	return &Server{arena: arenaMgr, sessions: sessions, replays: replays, fabric: fabric, issuer: issuer, log: log}
}

// ServeHTTP upgrades the request to a WebSocket using the "arena"
// subprotocol (mirrors the teacher's per-surface subprotocol checks,
// collapsed to one since this spec has a single socket kind).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"arena"},
	})
	if err != nil {
		s.log.WithError(err).Warn("websocket accept failed")
		return
	}

	conn := NewConn(wsConn, s.log)
	playerID := uuid.NewString()
	middleware.LogWebSocketConnect(s.log, r.RemoteAddr, r.URL.Path, playerID)

	token, err := s.issuer.CreateReconnectToken(playerID)
	if err != nil {
		s.log.WithError(err).Error("failed to mint reconnect token")
		conn.Close(int(websocket.StatusInternalError), "internal error")
		return
	}
	s.sessions.Register(playerID, token, conn)

	s.sendDirect(conn, "connected", map[string]interface{}{
		"playerId":       playerID,
		"reconnectToken": token,
		"lobbies":        s.arena.List(),
	})

	// current holds the identity bound to this physical connection. It
	// starts as the freshly-minted browsing id and is repointed to the
	// archived identity by handleReconnect — every message on this
	// connection after a successful reconnect must route under the
	// restored id, not the discarded provisional one.
	current := playerID

	ctx := r.Context()
	conn.ReadLoop(ctx, func(data []byte) {
		s.handleMessage(ctx, &current, conn, data)
	})

	lobbyID := s.onDisconnect(current)
	middleware.LogWebSocketDisconnect(s.log, r.RemoteAddr, r.URL.Path, current, lobbyID, nil)
}

func (s *Server) sendDirect(conn *Conn, msgType string, payload interface{}) {
	data, err := json.Marshal(broadcast.Envelope{Type: msgType, Payload: payload})
	if err != nil {
		s.log.WithError(err).Error("failed to marshal direct message")
		return
	}
	conn.Send(data)
}

func (s *Server) sendError(playerID, message string) {
	s.fabric.SendToPeer(playerID, "error", map[string]interface{}{"message": message})
}

func (s *Server) onDisconnect(playerID string) (lobbyID string) {
	archived, ok := s.sessions.Disconnect(playerID)
	if !ok || archived.LobbyID == "" {
		return ""
	}
	if l, ok := s.arena.Get(archived.LobbyID); ok {
		l.Send(func(l *arena.Lobby) {
			if archived.IsSpectator {
				l.LeaveSpectator(playerID)
			} else {
				l.LeavePlayer(playerID)
			}
			l.TriggerStateBroadcast()
			s.arena.BroadcastLobbyList()
		})
	}
	return archived.LobbyID
}

func (s *Server) handleMessage(ctx context.Context, playerIDRef *string, conn *Conn, raw []byte) {
	playerID := *playerIDRef

	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(playerID, "malformed message")
		return
	}

	switch msg.Type {
	case "reconnect":
		s.handleReconnect(playerIDRef, conn, msg.Payload)
	case "setUserId":
		s.handleSetUserID(playerID, msg.Payload)

	case "getLobbyList":
		s.fabric.SendToPeer(playerID, "lobbyList", map[string]interface{}{"lobbies": s.arena.List()})
	case "createLobby":
		s.handleCreateLobby(playerID, msg.Payload)
	case "joinLobby":
		s.handleJoinLobby(playerID, msg.Payload, false)
	case "joinLobbyAsSpectator":
		s.handleJoinLobby(playerID, msg.Payload, true)
	case "leaveLobby":
		s.handleLeaveLobby(playerID)

	case "getUserReplays":
		s.handleGetUserReplays(ctx, playerID)
	case "loadReplay":
		s.handleLoadReplay(ctx, playerID, msg.Payload)
	case "deleteReplay":
		s.handleDeleteReplay(ctx, playerID, msg.Payload)

	case "setName":
		s.handleSetName(playerID, msg.Payload)
	case "ready":
		s.handleReady(playerID, msg.Payload)
	case "updateSettings":
		s.handleUpdateSettings(playerID, msg.Payload)
	case "kickPlayer":
		s.handleModeration(playerID, msg.Payload, (*arena.Lobby).KickPlayer)
	case "banPlayer":
		s.handleModeration(playerID, msg.Payload, (*arena.Lobby).BanPlayer)
	case "addAIBot":
		s.handleAddAIBot(playerID)
	case "removeAIBot":
		s.handleRemoveAIBot(playerID, msg.Payload)
	case "returnToLobby":
		s.handleReturnToLobby(playerID)
	case "saveReplay":
		s.handleSaveReplay(ctx, playerID)

	case "move":
		s.handleMove(playerID, msg.Payload)
	case "brake":
		s.handleBrake(playerID, msg.Payload)

	default:
		// unknown messages are ignored per spec §4.8.
	}
}

func (s *Server) lobbyOfSession(playerID string) (*arena.Lobby, models.Session, bool) {
	sess, ok := s.sessions.Get(playerID)
	if !ok || sess.LobbyID == "" {
		return nil, models.Session{}, false
	}
	l, ok := s.arena.Get(sess.LobbyID)
	if !ok {
		return nil, sess, false
	}
	return l, sess, true
}

func (s *Server) handleReconnect(playerIDRef *string, conn *Conn, payload json.RawMessage) {
	playerID := *playerIDRef
	var body struct {
		ReconnectToken string `json:"reconnectToken"`
	}
	_ = json.Unmarshal(payload, &body)

	if _, err := s.issuer.VerifyReconnectToken(body.ReconnectToken); err != nil {
		s.sendError(playerID, "reconnect expired")
		return
	}

	restored, ok := s.sessions.Reconnect(body.ReconnectToken, conn)
	if !ok {
		s.sendError(playerID, "reconnect expired")
		return
	}
	s.sessions.Drop(playerID)
	*playerIDRef = restored.PlayerID
	s.fabric.SendToPeer(restored.PlayerID, "reconnected", map[string]interface{}{
		"playerId": restored.PlayerID, "lobbyId": nullable(restored.LobbyID), "isSpectator": restored.IsSpectator,
	})
	if restored.LobbyID != "" {
		s.broadcastLobbyStateTo(restored.LobbyID)
	}
}

func (s *Server) broadcastLobbyStateTo(lobbyID string) {
	if l, ok := s.arena.Get(lobbyID); ok {
		l.Send(func(l *arena.Lobby) {
			l.TriggerStateBroadcast()
		})
	}
}

func (s *Server) handleSetUserID(playerID string, payload json.RawMessage) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	s.sessions.SetUserID(playerID, body.UserID)
}

func (s *Server) handleCreateLobby(playerID string, payload json.RawMessage) {
	var body struct {
		IsPrivate       bool   `json:"isPrivate"`
		GridSize        int    `json:"gridSize"`
		MaxPlayers      int    `json:"maxPlayers"`
		AllowSpectators bool   `json:"allowSpectators"`
		LobbyName       string `json:"lobbyName"`
		Name            string `json:"name"`
	}
	_ = json.Unmarshal(payload, &body)

	settings := models.DefaultLobbySettings()
	settings.IsPrivate = body.IsPrivate
	if body.GridSize != 0 {
		if !arena.ValidGridSize(body.GridSize) {
			s.sendError(playerID, "gridSize must be one of 30, 40, 50, 60")
			return
		}
		settings.GridSize = body.GridSize
	}
	if body.MaxPlayers != 0 {
		if !arena.ValidMaxPlayers(body.MaxPlayers) {
			s.sendError(playerID, "maxPlayers must be one of 2, 4, 6, 8")
			return
		}
		settings.MaxPlayers = body.MaxPlayers
	}
	settings.AllowSpectators = body.AllowSpectators
	settings.LobbyName = arena.TruncateName(body.LobbyName)

	lobby := s.arena.Create(settings)
	s.joinAsPlayer(lobby, playerID, body.Name)
}

func (s *Server) joinAsPlayer(lobby *arena.Lobby, playerID, name string) {
	name = arena.TruncateName(name)
	if name == "" {
		name = "Player"
	}
	lobby.Send(func(l *arena.Lobby) {
		player := models.Player{ID: playerID, Name: name, Color: grid.HSL(l.FreshHue()), Speed: 1}
		if err := l.JoinPlayer(player); err != nil {
			s.sendError(playerID, err.Error())
			return
		}
		s.sessions.SetLobby(playerID, l.ID, false)
		s.fabric.SendToPeer(playerID, "lobbyJoined", map[string]interface{}{
			"lobbyId": l.ID, "gridSize": l.Settings.GridSize, "isSpectator": false,
		})
		l.TriggerStateBroadcast()
		s.arena.BroadcastLobbyList()
	})
}

func (s *Server) handleJoinLobby(playerID string, payload json.RawMessage, asSpectator bool) {
	var body struct {
		LobbyID string `json:"lobbyId"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.sendError(playerID, "malformed joinLobby payload")
		return
	}
	lobby, ok := s.arena.Get(body.LobbyID)
	if !ok {
		s.sendError(playerID, "lobby not found")
		return
	}

	if asSpectator {
		name := arena.TruncateName(body.Name)
		if name == "" {
			name = "Spectator"
		}
		lobby.Send(func(l *arena.Lobby) {
			spec := models.Spectator{ID: playerID, Name: name, Color: grid.HSL(l.FreshHue())}
			if err := l.JoinSpectator(spec); err != nil {
				s.sendError(playerID, err.Error())
				return
			}
			s.sessions.SetLobby(playerID, l.ID, true)
			s.fabric.SendToPeer(playerID, "lobbyJoined", map[string]interface{}{
				"lobbyId": l.ID, "gridSize": l.Settings.GridSize, "isSpectator": true,
			})
			l.TriggerStateBroadcast()
			s.arena.BroadcastLobbyList()
		})
		return
	}
	s.joinAsPlayer(lobby, playerID, body.Name)
}

func (s *Server) handleLeaveLobby(playerID string) {
	l, sess, ok := s.lobbyOfSession(playerID)
	if !ok {
		return
	}
	s.sessions.SetLobby(playerID, "", false)
	l.Send(func(l *arena.Lobby) {
		if sess.IsSpectator {
			l.LeaveSpectator(playerID)
		} else {
			l.LeavePlayer(playerID)
		}
		l.TriggerStateBroadcast()
		s.arena.BroadcastLobbyList()
	})
}

func (s *Server) handleGetUserReplays(ctx context.Context, playerID string) {
	sess, ok := s.sessions.Get(playerID)
	if !ok || sess.UserID == "" {
		s.sendError(playerID, "no user id set")
		return
	}
	index, err := s.replays.Index(ctx, sess.UserID)
	if err != nil {
		s.sendError(playerID, err.Error())
		return
	}
	s.fabric.SendToPeer(playerID, "userReplays", map[string]interface{}{"replays": index.Replays})
}

func (s *Server) handleLoadReplay(ctx context.Context, playerID string, payload json.RawMessage) {
	var body struct {
		ReplayID string `json:"replayId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.sendError(playerID, "malformed loadReplay payload")
		return
	}
	data, ok, err := s.replays.Load(ctx, body.ReplayID)
	if err != nil {
		s.sendError(playerID, err.Error())
		return
	}
	if !ok {
		s.sendError(playerID, "replay not found")
		return
	}
	s.fabric.SendToPeer(playerID, "replayData", map[string]interface{}{"replay": data})
}

func (s *Server) handleDeleteReplay(ctx context.Context, playerID string, payload json.RawMessage) {
	var body struct {
		ReplayID string `json:"replayId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.sendError(playerID, "malformed deleteReplay payload")
		return
	}
	sess, ok := s.sessions.Get(playerID)
	if !ok || sess.UserID == "" {
		s.sendError(playerID, "no user id set")
		return
	}
	if err := s.replays.Delete(ctx, sess.UserID, body.ReplayID); err != nil {
		s.sendError(playerID, err.Error())
		return
	}
	s.fabric.SendToPeer(playerID, "replayDeleted", map[string]interface{}{"replayId": body.ReplayID, "message": "deleted"})
}

func (s *Server) handleSetName(playerID string, payload json.RawMessage) {
	l, _, ok := s.lobbyOfSession(playerID)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	l.Send(func(l *arena.Lobby) {
		if p := l.FindPlayer(playerID); p != nil {
			p.Name = arena.TruncateName(body.Name)
		}
		l.TriggerStateBroadcast()
	})
}

func (s *Server) handleReady(playerID string, payload json.RawMessage) {
	l, _, ok := s.lobbyOfSession(playerID)
	if !ok {
		return
	}
	var body struct {
		Ready bool `json:"ready"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	l.Send(func(l *arena.Lobby) {
		l.SetReady(playerID, body.Ready)
		l.TriggerStateBroadcast()
	})
}

func (s *Server) handleUpdateSettings(playerID string, payload json.RawMessage) {
	l, _, ok := s.lobbyOfSession(playerID)
	if !ok {
		return
	}
	var patch map[string]interface{}
	if err := json.Unmarshal(payload, &patch); err != nil {
		return
	}
	l.Send(func(l *arena.Lobby) {
		if l.HostID != playerID {
			s.sendError(playerID, "only the host may update settings")
			return
		}
		if err := l.UpdateSettings(patch); err != nil {
			s.sendError(playerID, err.Error())
			return
		}
		l.TriggerStateBroadcast()
	})
}

func (s *Server) handleModeration(playerID string, payload json.RawMessage, action func(*arena.Lobby, string) error) {
	l, _, ok := s.lobbyOfSession(playerID)
	if !ok {
		return
	}
	var body struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	if body.TargetID == playerID {
		s.sendError(playerID, "cannot act on self")
		return
	}
	l.Send(func(l *arena.Lobby) {
		if l.HostID != playerID {
			s.sendError(playerID, "only the host may moderate")
			return
		}
		if err := action(l, body.TargetID); err != nil {
			s.sendError(playerID, err.Error())
			return
		}
		s.sessions.SetLobby(body.TargetID, "", false)
		l.TriggerStateBroadcast()
		s.arena.BroadcastLobbyList()
	})
}

func (s *Server) handleAddAIBot(playerID string) {
	l, _, ok := s.lobbyOfSession(playerID)
	if !ok {
		return
	}
	l.Send(func(l *arena.Lobby) {
		if l.HostID != playerID {
			s.sendError(playerID, "only the host may add bots")
			return
		}
		if _, err := l.AddAIBot(); err != nil {
			s.sendError(playerID, err.Error())
			return
		}
		l.TriggerStateBroadcast()
	})
}

func (s *Server) handleRemoveAIBot(playerID string, payload json.RawMessage) {
	l, _, ok := s.lobbyOfSession(playerID)
	if !ok {
		return
	}
	var body struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	l.Send(func(l *arena.Lobby) {
		if l.HostID != playerID {
			s.sendError(playerID, "only the host may remove bots")
			return
		}
		if err := l.RemoveAIBot(body.TargetID); err != nil {
			s.sendError(playerID, err.Error())
			return
		}
		l.TriggerStateBroadcast()
	})
}

func (s *Server) handleReturnToLobby(playerID string) {
	l, _, ok := s.lobbyOfSession(playerID)
	if !ok {
		return
	}
	l.Send(func(l *arena.Lobby) {
		l.ReturnToLobby()
		l.TriggerStateBroadcast()
	})
}

func (s *Server) handleSaveReplay(ctx context.Context, playerID string) {
	l, sess, ok := s.lobbyOfSession(playerID)
	if !ok {
		return
	}
	userID := sess.UserID
	if userID == "" {
		userID = playerID
	}
	type result struct {
		id  string
		err error
	}
	done := make(chan result, 1)
	l.Send(func(l *arena.Lobby) {
		id, err := l.SaveReplay(ctx, userID)
		done <- result{id, err}
	})
	select {
	case r := <-done:
		if r.err != nil {
			s.sendError(playerID, r.err.Error())
			return
		}
		s.fabric.SendToPeer(playerID, "replaySaved", map[string]interface{}{"replayId": r.id, "message": "saved"})
	case <-time.After(5 * time.Second):
		s.sendError(playerID, "replay save timed out")
	}
}

func (s *Server) handleMove(playerID string, payload json.RawMessage) {
	l, _, ok := s.lobbyOfSession(playerID)
	if !ok {
		return
	}
	var body struct {
		Direction string `json:"direction"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	l.Send(func(l *arena.Lobby) {
		l.Move(playerID, models.Direction(body.Direction))
	})
}

func (s *Server) handleBrake(playerID string, payload json.RawMessage) {
	l, _, ok := s.lobbyOfSession(playerID)
	if !ok {
		return
	}
	var body struct {
		Braking bool `json:"braking"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	l.Send(func(l *arena.Lobby) {
		l.Brake(playerID, body.Braking)
	})
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
