package arena

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightcycle-arena/server/internal/broadcast"
	"github.com/lightcycle-arena/server/internal/models"
	"github.com/lightcycle-arena/server/internal/session"
)

func newTestManager() *Manager {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	sessions := session.NewManager(60*time.Second, 120*time.Second, nil, nil)
	fabric := broadcast.New(sessions, logger)
	cfg := Config{TickRate: 200 * time.Millisecond, CountdownDuration: 5 * time.Second}
	return NewManager(cfg, fabric, sessions, nil, logger)
}

func TestManagerCreateAndGet(t *testing.T) {
	m := newTestManager()
	lobby := m.Create(models.DefaultLobbySettings())

	got, ok := m.Get(lobby.ID)
	require.True(t, ok)
	assert.Equal(t, lobby.ID, got.ID)
}

func TestManagerMustGetErrorsWhenMissing(t *testing.T) {
	m := newTestManager()
	_, err := m.MustGet("does-not-exist")
	assert.Error(t, err)
}

func TestManagerListExcludesPrivateLobbies(t *testing.T) {
	m := newTestManager()
	m.Create(models.DefaultLobbySettings())

	private := models.DefaultLobbySettings()
	private.IsPrivate = true
	m.Create(private)

	list := m.List()
	assert.Len(t, list, 1)
}

func TestManagerRemoveDropsLobbyFromList(t *testing.T) {
	m := newTestManager()
	lobby := m.Create(models.DefaultLobbySettings())

	m.remove(lobby.ID)

	_, ok := m.Get(lobby.ID)
	assert.False(t, ok)
}
