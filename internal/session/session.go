// Package session implements the connection/session manager: peer identity,
// the reconnect window, and peer-to-lobby routing (component I). Grounded
// on the teacher's connection tracking in internal/handlers/{game_ws,lobby_ws}.go
// generalized from two parallel per-surface tables into one. Archived
// sessions are backed by Redis with a native key TTL per spec §6, the same
// cache.Store the replay recorder persists through; a nil store falls back
// to an in-memory map, which is what every in-process test in this package
// exercises.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lightcycle-arena/server/internal/cache"
	"github.com/lightcycle-arena/server/internal/models"
)

// Peer is anything that can receive a non-blocking outbound send. Connection
// transports (internal/ws) implement this.
type Peer interface {
	Send(data []byte)
	Close(code int, reason string)
}

// entry is the manager's bookkeeping record for one connected peer.
type entry struct {
	session models.Session
	peer    Peer
}

// Manager owns the cross-lobby session table. All methods are safe for
// concurrent use (spec §5 "session tables must be safe under concurrent
// access").
type Manager struct {
	mu       sync.Mutex
	byPlayer map[string]*entry
	archived map[string]models.ArchivedSession // fallback store when cache is nil

	reconnectWindow time.Duration
	archiveTTL      time.Duration

	cache *cache.Store
	log   *logrus.Logger
}

// NewManager creates a session manager with the given reconnect window and
// archive TTL (spec constants: 60s / 120s). store may be nil, in which case
// archives live only in an in-memory map for the life of the process —
// used by tests that have no Redis available.
func NewManager(reconnectWindow, archiveTTL time.Duration, store *cache.Store, log *logrus.Logger) *Manager {
	return &Manager{
		byPlayer:        make(map[string]*entry),
		archived:        make(map[string]models.ArchivedSession),
		reconnectWindow: reconnectWindow,
		archiveTTL:      archiveTTL,
		cache:           store,
		log:             log,
	}
}

// Register binds a freshly connected peer under a new session in the
// browsing state (lobbyId empty).
func (m *Manager) Register(playerID, reconnectToken string, peer Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPlayer[playerID] = &entry{
		session: models.Session{
			PlayerID:       playerID,
			ReconnectToken: reconnectToken,
		},
		peer: peer,
	}
}

// Get returns a copy of the session state for playerID.
func (m *Manager) Get(playerID string) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byPlayer[playerID]
	if !ok {
		return models.Session{}, false
	}
	return e.session, true
}

// SetLobby updates a session's lobby binding (join/leave/create/browsing).
func (m *Manager) SetLobby(playerID, lobbyID string, isSpectator bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byPlayer[playerID]; ok {
		e.session.LobbyID = lobbyID
		e.session.IsSpectator = isSpectator
	}
}

// SetUserID stores the client-supplied persistent identity used only as the
// replay ownership key (spec §4.8 setUserId).
func (m *Manager) SetUserID(playerID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byPlayer[playerID]; ok {
		e.session.UserID = userID
	}
}

// Drop removes a live binding without archiving it — used when a
// provisional browsing identity is superseded by a successful reconnect
// (the fresh playerId minted on connect is discarded in favor of the
// archived identity being restored).
func (m *Manager) Drop(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byPlayer, playerID)
}

// Disconnect archives the session under its reconnect token and removes the
// live binding. Returns the archived session and the lobbyId it was bound
// to, so the caller can run last-human-leaves bookkeeping. Archiving is
// best-effort: a Redis failure is logged, never propagated, matching spec
// §7's "transport failures are dropped, the session is archived regardless"
// posture — the in-memory binding is always removed either way.
func (m *Manager) Disconnect(playerID string) (models.ArchivedSession, bool) {
	m.mu.Lock()
	e, ok := m.byPlayer[playerID]
	if !ok {
		m.mu.Unlock()
		return models.ArchivedSession{}, false
	}
	delete(m.byPlayer, playerID)
	token := e.session.ReconnectToken
	archived := models.ArchivedSession{
		PlayerID:    e.session.PlayerID,
		LobbyID:     e.session.LobbyID,
		IsSpectator: e.session.IsSpectator,
		LastSeen:    time.Now().UnixMilli(),
	}
	m.mu.Unlock()

	m.storeArchive(token, archived)
	return archived, true
}

// Reconnect looks up an archived session by token. If found and within the
// reconnect window, rebinds the peer under the archived identity and
// returns the restored session; otherwise returns ok=false.
func (m *Manager) Reconnect(reconnectToken string, peer Peer) (models.Session, bool) {
	archived, ok := m.loadArchive(reconnectToken)
	if !ok {
		return models.Session{}, false
	}
	if time.Since(time.UnixMilli(archived.LastSeen)) >= m.reconnectWindow {
		return models.Session{}, false
	}
	m.deleteArchive(reconnectToken)

	restored := models.Session{
		PlayerID:       archived.PlayerID,
		LobbyID:        archived.LobbyID,
		IsSpectator:    archived.IsSpectator,
		ReconnectToken: reconnectToken,
	}
	m.mu.Lock()
	m.byPlayer[archived.PlayerID] = &entry{session: restored, peer: peer}
	m.mu.Unlock()
	return restored, true
}

// SweepArchives evicts archived sessions older than the archive TTL (spec
// constant 120s), mirroring the teacher's periodic-scan idiom in
// cmd/db/historian.go's inactivityLoop. When backed by Redis the TTL set in
// storeArchive already expires entries natively; this pass only reconciles
// any archive key that somehow has no TTL attached (e.g. left over from an
// older build), which is the "periodic reconciliation" spec §6 calls for on
// top of native key expiry.
func (m *Manager) SweepArchives() {
	if m.cache == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		now := time.Now()
		for token, a := range m.archived {
			if now.Sub(time.UnixMilli(a.LastSeen)) >= m.archiveTTL {
				delete(m.archived, token)
			}
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	keys, err := m.cache.Scan(ctx, "sessions:archive:*")
	if err != nil {
		m.logError("failed to scan session archives", err)
		return
	}
	for _, key := range keys {
		ttl, err := m.cache.TTL(ctx, key)
		if err != nil {
			m.logError("failed to read session archive ttl", err)
			continue
		}
		if ttl < 0 {
			if err := m.cache.Del(ctx, key); err != nil {
				m.logError("failed to delete stale session archive", err)
			}
		}
	}
}

// PeersInLobby returns every peer currently bound to lobbyID.
func (m *Manager) PeersInLobby(lobbyID string) []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Peer
	for _, e := range m.byPlayer {
		if e.session.LobbyID == lobbyID {
			out = append(out, e.peer)
		}
	}
	return out
}

// BrowsingPeers returns every peer not currently bound to any lobby.
func (m *Manager) BrowsingPeers() []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Peer
	for _, e := range m.byPlayer {
		if e.session.LobbyID == "" {
			out = append(out, e.peer)
		}
	}
	return out
}

// PeerByPlayer returns the live peer bound to playerID, if connected.
func (m *Manager) PeerByPlayer(playerID string) (Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	return e.peer, true
}

func (m *Manager) storeArchive(token string, archived models.ArchivedSession) {
	if m.cache == nil {
		m.mu.Lock()
		m.archived[token] = archived
		m.mu.Unlock()
		return
	}

	data, err := json.Marshal(archived)
	if err != nil {
		m.logError("failed to marshal session archive", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.cache.Set(ctx, cache.SessionArchiveKey(token), data, m.archiveTTL); err != nil {
		m.logError("failed to archive session in redis", err)
	}
}

func (m *Manager) loadArchive(token string) (models.ArchivedSession, bool) {
	if m.cache == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		a, ok := m.archived[token]
		return a, ok
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, ok, err := m.cache.Get(ctx, cache.SessionArchiveKey(token))
	if err != nil {
		m.logError("failed to look up session archive", err)
		return models.ArchivedSession{}, false
	}
	if !ok {
		return models.ArchivedSession{}, false
	}
	var a models.ArchivedSession
	if err := json.Unmarshal(data, &a); err != nil {
		m.logError("failed to unmarshal session archive", err)
		return models.ArchivedSession{}, false
	}
	return a, true
}

func (m *Manager) deleteArchive(token string) {
	if m.cache == nil {
		m.mu.Lock()
		delete(m.archived, token)
		m.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.cache.Del(ctx, cache.SessionArchiveKey(token)); err != nil {
		m.logError("failed to delete session archive", err)
	}
}

func (m *Manager) logError(msg string, err error) {
	if m.log == nil {
		return
	}
	m.log.WithError(err).Warn(msg)
}
