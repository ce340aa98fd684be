package arena

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lightcycle-arena/server/internal/broadcast"
	"github.com/lightcycle-arena/server/internal/models"
	"github.com/lightcycle-arena/server/internal/replay"
	"github.com/lightcycle-arena/server/internal/session"
)

// Manager owns every live Lobby, merging the teacher's separate
// LobbyStore/GameStore registries (internal/game/lobby_store.go,
// internal/game/game_store.go) into one, since this spec has one aggregate
// (Lobby, which embeds its game state) instead of two.
type Manager struct {
	mu      sync.Mutex
	lobbies map[string]*Lobby

	cfg      Config
	fabric   *broadcast.Fabric
	sessions *session.Manager
	replays  *replay.Store
	log      *logrus.Logger
}

// NewManager builds an empty lobby registry.
func NewManager(cfg Config, fabric *broadcast.Fabric, sessions *session.Manager, replays *replay.Store, log *logrus.Logger) *Manager {
	return &Manager{
		lobbies:  make(map[string]*Lobby),
		cfg:      cfg,
		fabric:   fabric,
		sessions: sessions,
		replays:  replays,
		log:      log,
	}
}

// Create builds a new lobby with the given settings, registers it, and
// starts its actor goroutine.
func (m *Manager) Create(settings models.LobbySettings) *Lobby {
	id := uuid.NewString()
	lobby := NewLobby(id, settings, m.cfg, m.fabric, m.sessions, m.replays, m.log, m.remove, m.List, m.BroadcastLobbyList)

	m.mu.Lock()
	m.lobbies[id] = lobby
	m.mu.Unlock()

	go lobby.Run()
	return lobby
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lobbies, id)
}

// Get returns the lobby registered under id.
func (m *Manager) Get(id string) (*Lobby, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[id]
	return l, ok
}

// MustGet returns the lobby registered under id, or an error.
func (m *Manager) MustGet(id string) (*Lobby, error) {
	l, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("lobby not found")
	}
	return l, nil
}

// List returns the compact lobbyList item for every registered, non-private
// lobby (spec §6's lobby-list item shape and §4.8's getLobbyList).
//
// Each Lobby keeps an atomically-published snapshot of its own list item,
// refreshed at the end of every mailbox command and timer tick (see
// Lobby.Run / Lobby.refreshListItem) — List reads those snapshots rather
// than round-tripping into each lobby's actor, which would deadlock if
// called from within a lobby's own goroutine (e.g. while closing itself).
func (m *Manager) List() []models.LobbyListItem {
	m.mu.Lock()
	lobbies := make([]*Lobby, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		lobbies = append(lobbies, l)
	}
	m.mu.Unlock()

	out := make([]models.LobbyListItem, 0, len(lobbies))
	for _, l := range lobbies {
		item, ok := l.cachedListItem()
		if ok {
			out = append(out, item)
		}
	}
	return out
}

// BroadcastLobbyList fans the current lobby list out to every browsing peer.
func (m *Manager) BroadcastLobbyList() {
	m.fabric.BroadcastLobbyList("lobbyList", map[string]interface{}{"lobbies": m.List()})
}
