package arena

import (
	"math"
	"time"

	"github.com/lightcycle-arena/server/internal/models"
)

// onCountdownTick fires once per second while the lobby is in starting,
// per spec §4.4. Transitions to inGame generate obstacles, start the game
// state and the replay recorder; any other observed state stops the timer
// (handled by Lobby.Run's post-iteration ticker bookkeeping).
func (l *Lobby) onCountdownTick() {
	if l.State != models.LobbyStarting {
		return
	}
	if l.countdownRemaining() <= 0 {
		l.advanceFromCountdown()
		return
	}
	l.broadcastLobbyState()
}

// onGameTick fires every TickRate while the lobby is inGame.
func (l *Lobby) onGameTick() {
	if l.State != models.LobbyInGame {
		return
	}
	l.simulateTick()
}

// countdownRemaining computes the wall-clock-snapped seconds remaining in
// the 5s countdown, per spec §4.4 and §9's resolved open question.
func (l *Lobby) countdownRemaining() int {
	if l.CountdownStartedAt == nil {
		return 0
	}
	elapsed := time.Now().UnixMilli() - *l.CountdownStartedAt
	remainingMS := float64(l.cfg.CountdownDuration.Milliseconds()) - float64(elapsed)
	if remainingMS < 0 {
		remainingMS = 0
	}
	return int(math.Ceil(remainingMS / 1000))
}

// advanceFromCountdown performs the starting->inGame transition once the
// 5s countdown elapses: clears readiness, starts the game.
func (l *Lobby) advanceFromCountdown() {
	if l.State != models.LobbyStarting {
		return
	}
	l.CountdownStartedAt = nil
	for i := range l.Players {
		l.Players[i].IsReady = l.Players[i].IsBot()
	}
	l.startGame()
	l.broadcastLobbyState()
}

type lobbyPlayerView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Ready bool   `json:"ready"`
}

type lobbySpectatorView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// lobbyStatePayload is the minimal view struct sent in lobbyState broadcasts
// (spec §4.9); it never aliases Lobby's internal slices.
type lobbyStatePayload struct {
	LobbyID            string               `json:"lobbyId"`
	State              models.LobbyState    `json:"state"`
	Players            []lobbyPlayerView    `json:"players"`
	Spectators         []lobbySpectatorView `json:"spectators"`
	Settings           models.LobbySettings `json:"settings"`
	HostID             string               `json:"hostId"`
	CountdownRemaining *int                 `json:"countdownRemaining,omitempty"`
	RoundNumber        int                  `json:"roundNumber"`
}

func (l *Lobby) buildLobbyStatePayload() lobbyStatePayload {
	players := make([]lobbyPlayerView, len(l.Players))
	for i, p := range l.Players {
		players[i] = lobbyPlayerView{ID: p.ID, Name: p.Name, Color: p.Color, Ready: p.IsReady}
	}
	specs := make([]lobbySpectatorView, len(l.Spectators))
	for i, s := range l.Spectators {
		specs[i] = lobbySpectatorView{ID: s.ID, Name: s.Name, Color: s.Color}
	}

	payload := lobbyStatePayload{
		LobbyID:     l.ID,
		State:       l.State,
		Players:     players,
		Spectators:  specs,
		Settings:    l.Settings,
		HostID:      l.HostID,
		RoundNumber: l.RoundNumber,
	}
	if l.State == models.LobbyStarting {
		remaining := l.countdownRemaining()
		payload.CountdownRemaining = &remaining
	}
	return payload
}

func (l *Lobby) broadcastLobbyState() {
	l.fabric.BroadcastToLobby(l.ID, "lobbyState", l.buildLobbyStatePayload())
}

type gameStatePlayerView struct {
	ID              string `json:"id"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	Direction       string `json:"direction"`
	Speed           int    `json:"speed"`
	SpeedBoostUntil int64  `json:"speedBoostUntil,omitempty"`
	IsBraking       bool   `json:"isBraking"`
	HasShield       bool   `json:"hasShield"`
	HasTrailEraser  bool   `json:"hasTrailEraser"`
	Trail           []string `json:"trail"`
}

// gameStatePayload is the full snapshot broadcast once per tick (spec
// §4.3 step 6 / §4.9's "never alias interior objects" discipline).
type gameStatePayload struct {
	Players   []gameStatePlayerView `json:"players"`
	PowerUps  []models.PowerUp      `json:"powerUps"`
	Obstacles []string              `json:"obstacles"`
	GridSize  int                   `json:"gridSize"`
	IsDelta   bool                  `json:"isDelta"`
}

func (l *Lobby) broadcastGameState() {
	g := l.game
	players := make([]gameStatePlayerView, len(l.Players))
	for i, p := range l.Players {
		players[i] = gameStatePlayerView{
			ID: p.ID, X: p.X, Y: p.Y, Direction: string(p.Direction),
			Speed: p.Speed, SpeedBoostUntil: p.SpeedBoostUntil,
			IsBraking: p.IsBraking, HasShield: p.HasShield, HasTrailEraser: p.HasTrailEraser,
			Trail: append([]string(nil), p.Trail...),
		}
	}
	obstacles := make([]string, 0, len(g.Obstacles))
	for k := range g.Obstacles {
		obstacles = append(obstacles, k)
	}
	l.fabric.BroadcastToLobby(l.ID, "gameState", gameStatePayload{
		Players:   players,
		PowerUps:  append([]models.PowerUp(nil), g.PowerUps...),
		Obstacles: obstacles,
		GridSize:  g.GridSize,
	})
}
