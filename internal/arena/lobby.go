// Package arena implements the lobby and game state machines, the tick
// scheduler, and the lobby registry (components D, E, F, G). Grounded on
// the teacher's internal/game/lobby.go (Lobby struct, countdown timer,
// broadcast helpers) and internal/game/game.go (mutex-guarded simulation
// struct, BroadcastFn callbacks, turn-timer staleness-check pattern),
// generalized from "external lock + direct call" into a single-goroutine
// actor per lobby, per spec §5 and §9.
package arena

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lightcycle-arena/server/internal/broadcast"
	"github.com/lightcycle-arena/server/internal/grid"
	"github.com/lightcycle-arena/server/internal/models"
	"github.com/lightcycle-arena/server/internal/replay"
	"github.com/lightcycle-arena/server/internal/session"
)

// Config is the set of simulation timings a Lobby actor needs, sourced from
// internal/config.
type Config struct {
	TickRate          time.Duration
	CountdownDuration time.Duration
}

// Lobby is a single match room, owned entirely by its own goroutine
// (Lobby.run). No field below is safe to touch from outside that
// goroutine; all outside interaction goes through the command channel.
type Lobby struct {
	ID        string
	HostID    string
	Players   []models.Player
	Spectators []models.Spectator
	BannedIDs map[string]struct{}
	Settings  models.LobbySettings
	State     models.LobbyState
	CreatedAt int64

	CountdownStartedAt *int64
	RoundNumber        int

	game     *gameState
	recorder *replay.Recorder

	cfg      Config
	fabric   *broadcast.Fabric
	sessions *session.Manager
	replays  *replay.Store
	log      *logrus.Logger
	rng      *rand.Rand

	mailbox chan func()
	closed  chan struct{}

	listItem atomic.Value // models.LobbyListItem

	onClosed      func(lobbyID string)
	listLobbies   func() []models.LobbyListItem
	broadcastList func()
}

// cachedListItem returns the lobby's last-published list snapshot. ok is
// false only before the first refresh (immediately after construction,
// before Run's first loop iteration).
func (l *Lobby) cachedListItem() (models.LobbyListItem, bool) {
	v := l.listItem.Load()
	if v == nil {
		return models.LobbyListItem{}, false
	}
	item := v.(models.LobbyListItem)
	if item.IsPrivate {
		return models.LobbyListItem{}, false
	}
	return item, true
}

// refreshListItem recomputes and atomically publishes the lobby's list
// snapshot. Must only be called from the lobby's own goroutine.
func (l *Lobby) refreshListItem() {
	hostName := ""
	if p, _ := l.findPlayer(l.HostID); p != nil {
		hostName = p.Name
	}
	l.listItem.Store(models.LobbyListItem{
		LobbyID:     l.ID,
		PlayerCount: len(l.Players),
		MaxPlayers:  l.Settings.MaxPlayers,
		GridSize:    l.Settings.GridSize,
		IsPrivate:   l.Settings.IsPrivate,
		HostName:    hostName,
		State:       l.State,
	})
}

// NewLobby constructs a lobby in the waiting state. Call Run to start its
// actor goroutine.
func NewLobby(id string, settings models.LobbySettings, cfg Config, fabric *broadcast.Fabric, sessions *session.Manager, replays *replay.Store, log *logrus.Logger, onClosed func(string), listLobbies func() []models.LobbyListItem, broadcastList func()) *Lobby {
	l := &Lobby{
		ID:            id,
		BannedIDs:     make(map[string]struct{}),
		Settings:      settings,
		State:         models.LobbyWaiting,
		CreatedAt:     time.Now().UnixMilli(),
		cfg:           cfg,
		fabric:        fabric,
		sessions:      sessions,
		replays:       replays,
		log:           log,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		mailbox:       make(chan func(), 64),
		closed:        make(chan struct{}),
		onClosed:      onClosed,
		listLobbies:   listLobbies,
		broadcastList: broadcastList,
	}
	l.refreshListItem()
	return l
}

// Send enqueues a command to run on the lobby's own goroutine. Safe to call
// from any goroutine; drops the command (logging a warning) if the lobby's
// mailbox is full, matching the non-blocking-send discipline used
// everywhere else in this package.
func (l *Lobby) Send(cmd func(l *Lobby)) {
	select {
	case <-l.closed:
		return
	default:
	}
	select {
	case l.mailbox <- func() { cmd(l) }:
	default:
		l.log.WithField("lobby", l.ID).Warn("lobby mailbox full, dropping command")
	}
}

// Run is the lobby's actor loop: it merges inbound commands with the
// lobby's own timers (countdown, game tick) into one totally-ordered
// stream, per spec §5/§9. Panics inside are isolated so one lobby's
// failure cannot down the process (spec §7 "Fatal").
func (l *Lobby) Run() {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithFields(logrus.Fields{"lobby": l.ID, "panic": r}).Error("lobby actor panicked, closing lobby")
			l.doClose()
		}
	}()

	var countdownTicker *time.Ticker
	var gameTicker *time.Ticker
	defer func() {
		if countdownTicker != nil {
			countdownTicker.Stop()
		}
		if gameTicker != nil {
			gameTicker.Stop()
		}
	}()

	for {
		var countdownC <-chan time.Time
		if countdownTicker != nil {
			countdownC = countdownTicker.C
		}
		var gameC <-chan time.Time
		if gameTicker != nil {
			gameC = gameTicker.C
		}

		select {
		case cmd, ok := <-l.mailbox:
			if !ok {
				return
			}
			cmd()
		case <-countdownC:
			l.onCountdownTick()
		case <-gameC:
			l.onGameTick()
		}

		l.refreshListItem()

		switch l.State {
		case models.LobbyStarting:
			if countdownTicker == nil {
				countdownTicker = time.NewTicker(time.Second)
			}
		default:
			if countdownTicker != nil {
				countdownTicker.Stop()
				countdownTicker = nil
			}
		}

		switch l.State {
		case models.LobbyInGame:
			if gameTicker == nil {
				gameTicker = time.NewTicker(l.cfg.TickRate)
			}
		default:
			if gameTicker != nil {
				gameTicker.Stop()
				gameTicker = nil
			}
		}

		if l.State == models.LobbyClosed {
			return
		}
	}
}

func (l *Lobby) doClose() {
	l.State = models.LobbyClosed
	close(l.closed)
	if l.onClosed != nil {
		l.onClosed(l.ID)
	}
}

// --- FSM transitions (spec §4.1) ---

// FindPlayer returns the player with the given id in this lobby, if any.
// Must only be called from within the lobby's own goroutine (i.e. inside
// a Send callback).
func (l *Lobby) FindPlayer(id string) *models.Player {
	p, _ := l.findPlayer(id)
	return p
}

// FreshHue picks a hue not colliding with any current player's color. Must
// only be called from within the lobby's own goroutine.
func (l *Lobby) FreshHue() int {
	return l.freshHue()
}

// TriggerStateBroadcast re-sends the compact lobbyState view to every peer
// in this lobby. Must only be called from within the lobby's own goroutine.
func (l *Lobby) TriggerStateBroadcast() {
	l.broadcastLobbyState()
}

func (l *Lobby) findPlayer(id string) (*models.Player, int) {
	for i := range l.Players {
		if l.Players[i].ID == id {
			return &l.Players[i], i
		}
	}
	return nil, -1
}

func (l *Lobby) isFull() bool {
	return len(l.Players) >= l.Settings.MaxPlayers
}

func (l *Lobby) isBanned(id string) bool {
	_, ok := l.BannedIDs[id]
	return ok
}

// JoinPlayer appends a new human/bot player and promotes a host if needed.
func (l *Lobby) JoinPlayer(p models.Player) error {
	if l.State != models.LobbyWaiting {
		return fmt.Errorf("lobby is not accepting joins")
	}
	if l.isFull() {
		return fmt.Errorf("lobby is full")
	}
	if l.isBanned(p.ID) {
		return fmt.Errorf("banned from lobby")
	}
	l.Players = append(l.Players, p)
	if l.HostID == "" && !p.IsBot() {
		l.HostID = p.ID
	}
	return nil
}

// LeavePlayer removes a player, promoting a new host and cancelling an
// in-progress countdown if appropriate, and closing the lobby if the
// last-human-leaves rule fires.
func (l *Lobby) LeavePlayer(id string) {
	_, idx := l.findPlayer(id)
	if idx == -1 {
		return
	}
	wasHost := l.HostID == id
	l.Players = append(l.Players[:idx], l.Players[idx+1:]...)

	if wasHost {
		l.HostID = ""
		for _, p := range l.Players {
			if !p.IsBot() {
				l.HostID = p.ID
				break
			}
		}
	}

	if l.State == models.LobbyStarting {
		l.CountdownStartedAt = nil
		l.State = models.LobbyWaiting
	}

	l.checkLastHumanLeaves()
}

// checkLastHumanLeaves implements spec §4.9's last-lobby-leaver rule.
func (l *Lobby) checkLastHumanLeaves() {
	if l.State == models.LobbyClosed {
		return
	}
	humans := 0
	for _, p := range l.Players {
		if !p.IsBot() {
			humans++
		}
	}
	if humans > 0 {
		return
	}

	spectators := l.Spectators
	l.stopSimulation()
	l.doClose()

	var lobbies []models.LobbyListItem
	if l.listLobbies != nil {
		lobbies = l.listLobbies()
	}
	for _, s := range spectators {
		l.fabric.SendToPeer(s.ID, "lobbyClosed", map[string]interface{}{"message": "lobby closed: no players remaining"})
		l.sessions.SetLobby(s.ID, "", false)
		l.fabric.SendToPeer(s.ID, "connected", map[string]interface{}{
			"playerId": s.ID,
			"lobbies":  lobbies,
		})
	}
	if l.broadcastList != nil {
		l.broadcastList()
	}
}

func (l *Lobby) stopSimulation() {
	if l.game != nil {
		l.game = nil
	}
}

// JoinSpectator adds a spectator if settings allow it.
func (l *Lobby) JoinSpectator(s models.Spectator) error {
	if !l.Settings.AllowSpectators {
		return fmt.Errorf("spectators disabled")
	}
	s.JoinedAt = time.Now().UnixMilli()
	l.Spectators = append(l.Spectators, s)
	return nil
}

// LeaveSpectator removes a spectator by id.
func (l *Lobby) LeaveSpectator(id string) {
	for i, s := range l.Spectators {
		if s.ID == id {
			l.Spectators = append(l.Spectators[:i], l.Spectators[i+1:]...)
			return
		}
	}
}

// SetReady sets a player's ready flag and auto-advances to starting once
// every player is ready and at least one human is present.
func (l *Lobby) SetReady(id string, ready bool) {
	if l.State != models.LobbyWaiting {
		return
	}
	p, _ := l.findPlayer(id)
	if p == nil {
		return
	}
	p.IsReady = ready
	l.maybeStartCountdown()
}

func (l *Lobby) maybeStartCountdown() {
	if l.State != models.LobbyWaiting || len(l.Players) == 0 {
		return
	}
	humans := 0
	for _, p := range l.Players {
		if !p.IsBot() {
			humans++
		}
		if !p.IsReady {
			return
		}
	}
	if humans == 0 {
		return
	}
	now := time.Now().UnixMilli()
	l.CountdownStartedAt = &now
	l.State = models.LobbyStarting
	l.broadcastLobbyState()
}

// AddAIBot appends a ready-by-default bot player.
func (l *Lobby) AddAIBot() (string, error) {
	if l.State != models.LobbyWaiting {
		return "", fmt.Errorf("lobby is not accepting joins")
	}
	if l.isFull() {
		return "", fmt.Errorf("lobby is full")
	}
	id := "ai-" + uuid.NewString()[:8]
	hue := l.freshHue()
	l.Players = append(l.Players, models.Player{
		ID:      id,
		Name:    "Bot " + id[3:],
		Color:   grid.HSL(hue),
		IsReady: true,
		Speed:   1,
	})
	return id, nil
}

// RemoveAIBot removes a bot player by id.
func (l *Lobby) RemoveAIBot(id string) error {
	p, idx := l.findPlayer(id)
	if p == nil || !p.IsBot() {
		return fmt.Errorf("not a bot in this lobby")
	}
	l.Players = append(l.Players[:idx], l.Players[idx+1:]...)
	return nil
}

// KickPlayer removes a non-self, non-bot player (host only, enforced by caller).
func (l *Lobby) KickPlayer(targetID string) error {
	p, _ := l.findPlayer(targetID)
	if p == nil {
		return fmt.Errorf("player not found")
	}
	if p.IsBot() {
		return fmt.Errorf("cannot kick a bot")
	}
	l.LeavePlayer(targetID)
	return nil
}

// BanPlayer kicks a player and adds them to the ban list.
func (l *Lobby) BanPlayer(targetID string) error {
	p, _ := l.findPlayer(targetID)
	if p == nil {
		return fmt.Errorf("player not found")
	}
	if p.IsBot() {
		return fmt.Errorf("cannot ban a bot")
	}
	l.BannedIDs[targetID] = struct{}{}
	l.LeavePlayer(targetID)
	return nil
}

// UpdateSettings merges partial settings into the lobby (host-only,
// enforced by caller). See settings.go for the merge logic.
func (l *Lobby) UpdateSettings(patch map[string]interface{}) error {
	if l.State != models.LobbyWaiting {
		return fmt.Errorf("cannot change settings once starting")
	}
	return mergeLobbySettings(&l.Settings, patch)
}

func (l *Lobby) freshHue() int {
	var taken []int
	for _, p := range l.Players {
		if h, ok := parseHue(p.Color); ok {
			taken = append(taken, h)
		}
	}
	return grid.NonCollidingHue(taken, l.rng)
}

func parseHue(hsl string) (int, bool) {
	var h int
	n, err := fmt.Sscanf(hsl, "hsl(%d,", &h)
	if err != nil || n != 1 {
		return 0, false
	}
	return h, true
}

// ReturnToLobby resets readiness after a finished match; bots auto-re-ready.
func (l *Lobby) ReturnToLobby() {
	if l.State != models.LobbyFinished {
		return
	}
	for i := range l.Players {
		l.Players[i].IsReady = l.Players[i].IsBot()
		l.Players[i].Direction = ""
		l.Players[i].Trail = nil
		l.Players[i].HasShield = false
		l.Players[i].HasTrailEraser = false
		l.Players[i].Speed = 1
		l.Players[i].SpeedBoostUntil = 0
		l.Players[i].IsBraking = false
	}
	l.game = nil
	l.State = models.LobbyWaiting
}

// Close transitions the lobby to closed from any state.
func (l *Lobby) Close() {
	l.stopSimulation()
	l.doClose()
}

// Move handles an inbound move{direction} action (spec §4.8's in-game
// dispatch); ignored unless the lobby is inGame and the player exists and
// is not crashed.
func (l *Lobby) Move(playerID string, dir models.Direction) {
	if l.State != models.LobbyInGame || l.game == nil {
		return
	}
	p, _ := l.findPlayer(playerID)
	if p == nil || p.Direction == models.DirCrashed {
		return
	}
	l.applyMove(p, dir)
	l.recorder.RecordAction(playerID, "move", map[string]interface{}{"direction": string(dir)})
}

// Brake handles an inbound brake{braking} action.
func (l *Lobby) Brake(playerID string, braking bool) {
	if l.State != models.LobbyInGame || l.game == nil {
		return
	}
	p, _ := l.findPlayer(playerID)
	if p == nil || p.Direction == models.DirCrashed {
		return
	}
	p.IsBraking = braking
	if braking {
		p.BrakeStartTime = time.Now().UnixMilli()
	}
	l.recorder.RecordAction(playerID, "brake", map[string]interface{}{"braking": braking})
}

// SaveReplay persists the lobby's current recorder under userID, per spec
// §4.10, then discards it — a finished match can be saved at most once;
// a second saveReplay for the same match fails with "no replay available"
// rather than writing a duplicate blob.
func (l *Lobby) SaveReplay(ctx context.Context, userID string) (string, error) {
	if l.recorder == nil || !l.recorder.Active() {
		return "", fmt.Errorf("no replay available")
	}
	id, err := l.replays.Save(ctx, l.recorder, userID)
	if err != nil {
		return "", err
	}
	l.recorder.Discard()
	return id, nil
}
