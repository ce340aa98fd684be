package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectionOpposite(t *testing.T) {
	assert.Equal(t, DirDown, DirUp.Opposite())
	assert.Equal(t, DirUp, DirDown.Opposite())
	assert.Equal(t, DirRight, DirLeft.Opposite())
	assert.Equal(t, DirLeft, DirRight.Opposite())
	assert.Equal(t, DirCrashed, DirCrashed.Opposite())
}

func TestIsBotByIDPrefix(t *testing.T) {
	bot := Player{ID: "ai-abc123"}
	human := Player{ID: "user-42"}
	assert.True(t, bot.IsBot())
	assert.False(t, human.IsBot())
}

func TestCellKeyFormatsNegativeCoordinates(t *testing.T) {
	assert.Equal(t, "0,0", CellKey(0, 0))
	assert.Equal(t, "-3,5", CellKey(-3, 5))
	assert.Equal(t, "12,-7", CellKey(12, -7))
}
