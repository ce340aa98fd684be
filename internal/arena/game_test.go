package arena

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightcycle-arena/server/internal/broadcast"
	"github.com/lightcycle-arena/server/internal/cache"
	"github.com/lightcycle-arena/server/internal/models"
	"github.com/lightcycle-arena/server/internal/replay"
	"github.com/lightcycle-arena/server/internal/session"
)

func startedTestLobby(playerIDs ...string) *Lobby {
	l := defaultTestLobby()
	for _, id := range playerIDs {
		_ = l.JoinPlayer(models.Player{ID: id, Name: id})
	}
	for _, id := range playerIDs {
		l.SetReady(id, true)
	}
	l.advanceFromCountdown()
	return l
}

func TestStartGamePlacesPlayersInBoundsWithRecorder(t *testing.T) {
	l := startedTestLobby("p1", "p2")
	require.Equal(t, models.LobbyInGame, l.State)
	require.NotNil(t, l.game)
	require.True(t, l.recorder.Active())

	for _, p := range l.Players {
		assert.GreaterOrEqual(t, p.X, 0)
		assert.Less(t, p.X, l.Settings.GridSize)
		assert.GreaterOrEqual(t, p.Y, 0)
		assert.Less(t, p.Y, l.Settings.GridSize)
		assert.NotEqual(t, models.DirCrashed, p.Direction)
	}
}

func TestSimulateTickAdvancesPlayerPosition(t *testing.T) {
	l := startedTestLobby("p1")
	p := l.FindPlayer("p1")
	p.X, p.Y = 20, 20
	p.Direction = models.DirRight
	p.LastDirection = models.DirRight

	l.simulateTick()

	moved := l.FindPlayer("p1")
	assert.Equal(t, 21, moved.X)
	assert.Equal(t, 20, moved.Y)
	assert.Contains(t, moved.Trail, models.CellKey(20, 20))
}

func TestApplyMoveRejectsImmediateReversal(t *testing.T) {
	l := startedTestLobby("p1")
	p := l.FindPlayer("p1")
	p.Direction = models.DirRight
	p.Trail = []string{"5,5"}

	l.applyMove(p, models.DirLeft)
	assert.Equal(t, models.DirRight, p.Direction, "a player with a trail must not reverse into itself")
}

func TestApplyMoveAllowsReversalWithoutTrail(t *testing.T) {
	l := startedTestLobby("p1")
	p := l.FindPlayer("p1")
	p.Direction = models.DirRight
	p.Trail = nil

	l.applyMove(p, models.DirLeft)
	assert.Equal(t, models.DirLeft, p.Direction)
}

func TestApplyMoveDoubleTapConsumesTrailEraser(t *testing.T) {
	l := startedTestLobby("p1")
	p := l.FindPlayer("p1")
	p.Direction = models.DirRight
	p.HasTrailEraser = true
	p.Trail = []string{"1,1", "2,1", "3,1", "4,1"}

	l.applyMove(p, models.DirRight)

	assert.False(t, p.HasTrailEraser)
	assert.Len(t, p.Trail, 2, "trail eraser clears the first half")
}

func TestHandleCollisionWithWallCrashesPlayer(t *testing.T) {
	l := startedTestLobby("p1")
	p := l.FindPlayer("p1")
	p.X, p.Y = -1, 10

	crashed := l.handleCollision(p)
	assert.True(t, crashed)
	assert.Equal(t, models.DirCrashed, p.Direction)
}

func TestHandleCollisionWithShieldAbsorbsOnce(t *testing.T) {
	l := startedTestLobby("p1")
	p := l.FindPlayer("p1")
	p.X, p.Y = -1, 10
	p.HasShield = true

	absorbed := l.handleCollision(p)
	assert.False(t, absorbed)
	assert.False(t, p.HasShield)
	assert.NotEqual(t, models.DirCrashed, p.Direction)
}

func TestHandlePickupAppliesSpeedBoost(t *testing.T) {
	l := startedTestLobby("p1")
	p := l.FindPlayer("p1")
	p.X, p.Y = 15, 15
	l.game.PowerUps = []models.PowerUp{{X: 15, Y: 15, Type: models.PowerUpSpeed}}

	l.handlePickup(p)

	assert.Equal(t, 2, p.Speed)
	assert.Greater(t, p.SpeedBoostUntil, int64(0))
	assert.Empty(t, l.game.PowerUps)
}

func TestHandlePickupAppliesShield(t *testing.T) {
	l := startedTestLobby("p1")
	p := l.FindPlayer("p1")
	p.X, p.Y = 15, 15
	l.game.PowerUps = []models.PowerUp{{X: 15, Y: 15, Type: models.PowerUpShield}}

	l.handlePickup(p)
	assert.True(t, p.HasShield)
}

func TestCheckGameEndDeclaresSoleSurvivorWinner(t *testing.T) {
	l := startedTestLobby("p1", "p2")
	l.FindPlayer("p1").Direction = models.DirCrashed

	l.checkGameEnd()

	assert.Equal(t, models.LobbyFinished, l.State)
	assert.Equal(t, "p2", l.game.Winner)
}

func TestCheckGameEndDeclaresDrawWhenAllCrash(t *testing.T) {
	l := startedTestLobby("p1", "p2")
	l.FindPlayer("p1").Direction = models.DirCrashed
	l.FindPlayer("p2").Direction = models.DirCrashed

	l.checkGameEnd()

	assert.Equal(t, models.LobbyFinished, l.State)
	assert.Empty(t, l.game.Winner)
}

func TestCheckGameEndRespawnsPlayersForNextRound(t *testing.T) {
	l := startedTestLobby("p1", "p2")
	l.FindPlayer("p1").Direction = models.DirCrashed
	prevRound := l.RoundNumber

	l.checkGameEnd()

	assert.Equal(t, prevRound+1, l.RoundNumber)
	for _, p := range l.Players {
		assert.NotEqual(t, models.DirCrashed, p.Direction)
		assert.Empty(t, p.Trail)
	}
}

func TestMoveStepsDoublesWhileBoosted(t *testing.T) {
	p := &models.Player{SpeedBoostUntil: time.Now().UnixMilli() + 10_000}
	assert.Equal(t, 2, moveSteps(p, 1))
}

func TestMoveStepsBrakingOnlyEveryFifthTick(t *testing.T) {
	p := &models.Player{IsBraking: true}
	assert.Equal(t, 0, moveSteps(p, 1))
	assert.Equal(t, 0, moveSteps(p, 4))
	assert.Equal(t, 1, moveSteps(p, 5))
	assert.Equal(t, 1, moveSteps(p, 10))
}

func TestMoveStepsNormalPace(t *testing.T) {
	p := &models.Player{}
	assert.Equal(t, 1, moveSteps(p, 3))
}

// lobbyWithRealReplayStore dials a local Redis exactly like internal/replay's
// own integration tests, skipping when no instance is reachable.
func lobbyWithRealReplayStore(t *testing.T) *Lobby {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skip("no local redis reachable, skipping replay-backed lobby test")
	}
	t.Cleanup(func() { _ = rdb.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	sessions := session.NewManager(60*time.Second, 120*time.Second, nil, nil)
	fabric := broadcast.New(sessions, logger)
	replays := replay.NewStore(&cache.Store{Rdb: rdb}, models.MaxReplaysPerUser)
	cfg := Config{TickRate: 200 * time.Millisecond, CountdownDuration: 5 * time.Second}
	return NewLobby("lobby1", models.DefaultLobbySettings(), cfg, fabric, sessions, replays, logger, nil, nil, nil)
}

func TestSaveReplayDiscardsRecorderPreventingDuplicateSave(t *testing.T) {
	l := lobbyWithRealReplayStore(t)
	l.JoinPlayer(models.Player{ID: "p1", Name: "p1"})
	l.JoinPlayer(models.Player{ID: "p2", Name: "p2"})
	l.SetReady("p1", true)
	l.SetReady("p2", true)
	l.advanceFromCountdown()
	l.FindPlayer("p1").Direction = models.DirCrashed
	l.checkGameEnd()
	require.Equal(t, models.LobbyFinished, l.State)

	ctx := context.Background()
	id, err := l.SaveReplay(ctx, "userX")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	t.Cleanup(func() { _ = l.replays.Delete(ctx, "userX", id) })

	_, err = l.SaveReplay(ctx, "userX")
	assert.Error(t, err, "a second saveReplay for the same finished match must not succeed")
}
