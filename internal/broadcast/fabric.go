// Package broadcast implements the three fan-outs named in spec §4.9:
// sendToPeer, broadcastToLobby and broadcastLobbyList. Grounded on the
// teacher's createBroadcastFunc/createBroadcastToPlayerFunc closures
// (internal/handlers/game_ws.go), which snapshot under lock, release, then
// do non-blocking per-peer sends — preserved here as the same discipline.
package broadcast

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/lightcycle-arena/server/internal/session"
)

// Envelope is the wire shape every server->client message takes:
// {type, payload}.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Fabric fans messages out to peers via the session manager's registries.
// It never blocks the caller on network I/O (spec §5 "simulation and
// broadcasting must not block on network I/O").
type Fabric struct {
	sessions *session.Manager
	log      *logrus.Logger
}

// New builds a Fabric over the given session manager.
func New(sessions *session.Manager, log *logrus.Logger) *Fabric {
	return &Fabric{sessions: sessions, log: log}
}

func (f *Fabric) marshal(msgType string, payload interface{}) ([]byte, bool) {
	data, err := json.Marshal(Envelope{Type: msgType, Payload: payload})
	if err != nil {
		f.log.WithError(err).WithField("type", msgType).Error("failed to marshal broadcast message")
		return nil, false
	}
	return data, true
}

// SendToPeer delivers msg to exactly one playerId, if it is currently
// connected. A disconnected target is silently dropped.
func (f *Fabric) SendToPeer(playerID, msgType string, payload interface{}) {
	peer, ok := f.sessions.PeerByPlayer(playerID)
	if !ok {
		return
	}
	data, ok := f.marshal(msgType, payload)
	if !ok {
		return
	}
	peer.Send(data)
}

// BroadcastToLobby delivers msg to every peer whose session is bound to
// lobbyID.
func (f *Fabric) BroadcastToLobby(lobbyID, msgType string, payload interface{}) {
	data, ok := f.marshal(msgType, payload)
	if !ok {
		return
	}
	for _, peer := range f.sessions.PeersInLobby(lobbyID) {
		peer.Send(data)
	}
}

// BroadcastLobbyList delivers msg to every browsing peer (lobbyId == null).
func (f *Fabric) BroadcastLobbyList(msgType string, payload interface{}) {
	data, ok := f.marshal(msgType, payload)
	if !ok {
		return
	}
	for _, peer := range f.sessions.BrowsingPeers() {
		peer.Send(data)
	}
}
