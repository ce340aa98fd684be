package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightcycle-arena/server/internal/models"
)

func TestMergeLobbySettingsRejectsWrongType(t *testing.T) {
	settings := models.DefaultLobbySettings()
	err := mergeLobbySettings(&settings, map[string]interface{}{"isPrivate": "yes"})
	assert.Error(t, err)
}

func TestMergeLobbySettingsRejectsInvalidMaxPlayers(t *testing.T) {
	settings := models.DefaultLobbySettings()
	err := mergeLobbySettings(&settings, map[string]interface{}{"maxPlayers": float64(3)})
	assert.Error(t, err)
}

func TestMergeLobbySettingsAppliesValidPatch(t *testing.T) {
	settings := models.DefaultLobbySettings()
	err := mergeLobbySettings(&settings, map[string]interface{}{
		"isPrivate":       true,
		"allowSpectators": false,
		"maxPlayers":      float64(8),
		"lobbyName":       "My Arena",
	})
	require.NoError(t, err)
	assert.True(t, settings.IsPrivate)
	assert.False(t, settings.AllowSpectators)
	assert.Equal(t, 8, settings.MaxPlayers)
	assert.Equal(t, "My Arena", settings.LobbyName)
}

func TestMergeLobbySettingsIgnoresUnknownKeys(t *testing.T) {
	settings := models.DefaultLobbySettings()
	err := mergeLobbySettings(&settings, map[string]interface{}{"unrelated": 42})
	assert.NoError(t, err)
}

func TestTruncateNameCapsAtTwentyChars(t *testing.T) {
	long := "this name is definitely longer than twenty characters"
	assert.Equal(t, long[:20], TruncateName(long))
	assert.Equal(t, "short", TruncateName("short"))
}
