package arena

import (
	"fmt"

	"github.com/lightcycle-arena/server/internal/models"
)

// validGridSizes and validMaxPlayers mirror the enumerations in spec §3.
var validGridSizes = map[int]bool{30: true, 40: true, 50: true, 60: true}
var validMaxPlayers = map[int]bool{2: true, 4: true, 6: true, 8: true}

// mergeLobbySettings applies a partial JSON-decoded patch onto settings,
// validating each field, in the style of the teacher's HouseRules.Update
// (internal/game/rules.go) type-safe partial-merge idiom.
func mergeLobbySettings(settings *models.LobbySettings, patch map[string]interface{}) error {
	assignBool := func(key string, dst *bool) error {
		v, ok := patch[key]
		if !ok {
			return nil
		}
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%s must be a boolean", key)
		}
		*dst = b
		return nil
	}

	if err := assignBool("isPrivate", &settings.IsPrivate); err != nil {
		return err
	}
	if err := assignBool("allowSpectators", &settings.AllowSpectators); err != nil {
		return err
	}

	if v, ok := patch["gridSize"]; ok {
		n, ok := asInt(v)
		if !ok || !validGridSizes[n] {
			return fmt.Errorf("gridSize must be one of 30, 40, 50, 60")
		}
		settings.GridSize = n
	}

	if v, ok := patch["maxPlayers"]; ok {
		n, ok := asInt(v)
		if !ok || !validMaxPlayers[n] {
			return fmt.Errorf("maxPlayers must be one of 2, 4, 6, 8")
		}
		settings.MaxPlayers = n
	}

	if v, ok := patch["lobbyName"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("lobbyName must be a string")
		}
		if len(s) > 20 {
			s = s[:20]
		}
		settings.LobbyName = s
	}

	return nil
}

// ValidGridSize reports whether n is one of the grid-size enum values
// accepted at both lobby creation and settings-update time.
func ValidGridSize(n int) bool {
	return validGridSizes[n]
}

// ValidMaxPlayers reports whether n is one of the max-players enum
// values accepted at both lobby creation and settings-update time.
func ValidMaxPlayers(n int) bool {
	return validMaxPlayers[n]
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// TruncateName enforces the 20-character name limit named in spec §6.
func TruncateName(name string) string {
	if len(name) > 20 {
		return name[:20]
	}
	return name
}
