package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightcycle-arena/server/internal/session"
)

type fakePeer struct {
	received [][]byte
}

func (p *fakePeer) Send(data []byte)              { p.received = append(p.received, data) }
func (p *fakePeer) Close(code int, reason string) {}

func newTestFabric() (*Fabric, *session.Manager) {
	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	sessions := session.NewManager(60*time.Second, 120*time.Second, nil, nil)
	return New(sessions, logger), sessions
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func decodeEnvelope(t *testing.T, data []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestSendToPeerDeliversOnlyToTarget(t *testing.T) {
	fabric, sessions := newTestFabric()
	target := &fakePeer{}
	other := &fakePeer{}
	sessions.Register("p1", "t1", target)
	sessions.Register("p2", "t2", other)

	fabric.SendToPeer("p1", "ready", map[string]interface{}{"ready": true})

	require.Len(t, target.received, 1)
	assert.Empty(t, other.received)

	env := decodeEnvelope(t, target.received[0])
	assert.Equal(t, "ready", env.Type)
}

func TestSendToPeerSilentlyDropsDisconnectedTarget(t *testing.T) {
	fabric, _ := newTestFabric()
	assert.NotPanics(t, func() {
		fabric.SendToPeer("ghost", "ready", nil)
	})
}

func TestBroadcastToLobbyReachesOnlyLobbyMembers(t *testing.T) {
	fabric, sessions := newTestFabric()
	member := &fakePeer{}
	outsider := &fakePeer{}
	sessions.Register("p1", "t1", member)
	sessions.Register("p2", "t2", outsider)
	sessions.SetLobby("p1", "lobby1", false)

	fabric.BroadcastToLobby("lobby1", "gameState", map[string]interface{}{"tick": 1})

	assert.Len(t, member.received, 1)
	assert.Empty(t, outsider.received)
}

func TestBroadcastLobbyListReachesOnlyBrowsingPeers(t *testing.T) {
	fabric, sessions := newTestFabric()
	browsing := &fakePeer{}
	inLobby := &fakePeer{}
	sessions.Register("p1", "t1", browsing)
	sessions.Register("p2", "t2", inLobby)
	sessions.SetLobby("p2", "lobby1", false)

	fabric.BroadcastLobbyList("lobbyList", map[string]interface{}{"lobbies": []int{}})

	assert.Len(t, browsing.received, 1)
	assert.Empty(t, inLobby.received)
}
