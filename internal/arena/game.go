package arena

import (
	"time"

	"github.com/lightcycle-arena/server/internal/ai"
	"github.com/lightcycle-arena/server/internal/grid"
	"github.com/lightcycle-arena/server/internal/models"
	"github.com/lightcycle-arena/server/internal/replay"
)

// gameState is the authoritative simulation state for one match, owned by
// the same goroutine as its Lobby (spec §4.2/§4.3). There is deliberately
// no separate FSM-state enum beyond "exists" / "gameOver" — playing vs
// paused never arises without a pause feature in this spec, so the
// lobby's own inGame/finished states double as the game's idle/playing/
// gameOver states per spec's hierarchical-FSM design note.
type gameState struct {
	ID        string
	GridSize  int
	Obstacles map[string]struct{}
	PowerUps  []models.PowerUp
	Settings  models.GameSettings
	Ticks     int
	StartTime time.Time
	Winner    string
	GameOver  bool
}

// startGame generates obstacles, safe-spawns every player, and creates the
// game state + replay recorder, per the countdown scheduler's
// starting->inGame transition (spec §4.4).
func (l *Lobby) startGame() {
	gs := models.DefaultGameSettings()
	gridSize := l.Settings.GridSize
	obstacles := grid.Obstacles(gridSize, l.rng)

	occupied := make(grid.Occupancy, len(obstacles))
	for k := range obstacles {
		occupied[k] = struct{}{}
	}

	for i := range l.Players {
		x, y, dir := grid.SafeSpawn(gridSize, occupied, l.rng)
		occupied[models.CellKey(x, y)] = struct{}{}
		l.Players[i].X = x
		l.Players[i].Y = y
		l.Players[i].Direction = models.Direction(dir)
		l.Players[i].LastDirection = models.Direction(dir)
		l.Players[i].Trail = nil
		l.Players[i].Speed = 1
		l.Players[i].SpeedBoostUntil = 0
		l.Players[i].IsBraking = false
		l.Players[i].HasShield = false
		l.Players[i].HasTrailEraser = false
	}

	l.game = &gameState{
		ID:        l.ID + ":" + time.Now().Format("20060102150405"),
		GridSize:  gridSize,
		Obstacles: obstacles,
		Settings:  gs,
		StartTime: time.Now(),
	}

	obstacleList := make([]string, 0, len(obstacles))
	for k := range obstacles {
		obstacleList = append(obstacleList, k)
	}

	if l.recorder == nil {
		l.recorder = replay.New()
	}
	l.recorder.Begin(l.Settings.LobbyName, models.InitialState{
		GridSize:  gridSize,
		Players:   append([]models.Player(nil), l.Players...),
		Obstacles: obstacleList,
		Settings:  gs,
	})
	l.recorder.RecordEvent("gameStarted", map[string]interface{}{"players": len(l.Players)})

	l.State = models.LobbyInGame
}

// activeDirectionsByPlayer returns the id->direction map used for own-trail
// exclusion checks each tick.
func (l *Lobby) occupancyForAI() map[string]struct{} {
	cells := make(map[string]struct{})
	for _, p := range l.Players {
		if p.Direction == models.DirCrashed {
			continue
		}
		for _, c := range p.Trail {
			cells[c] = struct{}{}
		}
		cells[models.CellKey(p.X, p.Y)] = struct{}{}
	}
	return cells
}

// simulateTick runs one full 200ms simulation step, per spec §4.3 steps 1-8.
func (l *Lobby) simulateTick() {
	g := l.game
	if g == nil || g.GameOver {
		return
	}

	// 1. advance internal counter modulo 4 (retained for parity with the
	// teacher's turn-phase counter; this spec has no per-phase behavior
	// keyed off it beyond bookkeeping).
	g.Ticks++

	// 2. bump the recorder's tick counter.
	l.recorder.Tick()

	// 3. bot directional decisions.
	for i := range l.Players {
		p := &l.Players[i]
		if !p.IsBot() || p.Direction == models.DirCrashed {
			continue
		}
		dir := ai.Decide(p, ai.Context{
			GridSize:  g.GridSize,
			Obstacles: g.Obstacles,
			Players:   l.Players,
			PowerUps:  g.PowerUps,
		})
		if dir != p.Direction {
			l.applyMove(p, dir)
			l.recorder.RecordAction(p.ID, "move", map[string]interface{}{"direction": string(dir)})
		}
	}

	// 4. power-up spawn, p=0.10.
	if len(g.PowerUps) < g.Settings.MaxPowerUps && l.rng.Float64() < 0.10 {
		occ := l.occupancyForAI()
		for k := range g.Obstacles {
			occ[k] = struct{}{}
		}
		for _, pu := range g.PowerUps {
			occ[models.CellKey(pu.X, pu.Y)] = struct{}{}
		}
		if x, y, ok := grid.SpawnPowerUp(g.GridSize, occ, l.rng); ok {
			kinds := [3]models.PowerUpType{models.PowerUpSpeed, models.PowerUpShield, models.PowerUpTrailEraser}
			kind := kinds[l.rng.Intn(3)]
			g.PowerUps = append(g.PowerUps, models.PowerUp{X: x, Y: y, Type: kind})
			l.recorder.RecordEvent("powerUpSpawned", map[string]interface{}{"x": x, "y": y, "type": string(kind)})
		}
	}

	// 5. per-player movement resolution, in iteration order.
	for i := range l.Players {
		p := &l.Players[i]
		if p.Direction == models.DirCrashed {
			continue
		}
		l.resolvePlayerMovement(p)
	}

	// 6. broadcast gameState, exactly once, after all per-player resolution.
	l.broadcastGameState()

	// 7. position snapshot event.
	snapshot := make(map[string]interface{}, len(l.Players))
	for _, p := range l.Players {
		snapshot[p.ID] = map[string]interface{}{
			"x": p.X, "y": p.Y, "direction": string(p.Direction),
			"trail": append([]string(nil), p.Trail...),
		}
	}
	l.recorder.RecordEvent("positionSnapshot", map[string]interface{}{"players": snapshot})

	// 8. end-condition check.
	l.checkGameEnd()
}

// applyMove implements PlayerMove's opposite-direction guard and the
// trail-eraser double-tap gesture (spec §4.2).
func (l *Lobby) applyMove(p *models.Player, dir models.Direction) {
	if len(p.Trail) > 0 && dir == p.Direction.Opposite() {
		return
	}
	if dir == p.Direction && p.HasTrailEraser {
		l.useTrailEraser(p)
		return
	}
	p.LastDirection = p.Direction
	p.Direction = dir
}

// useTrailEraser consumes the charge and clears a prefix of the trail.
func (l *Lobby) useTrailEraser(p *models.Player) {
	p.HasTrailEraser = false
	half := len(p.Trail) / 2
	p.Trail = p.Trail[half:]
	l.fabric.BroadcastToLobby(l.ID, "trailEraserUsed", map[string]interface{}{"playerId": p.ID})
	l.recorder.RecordEvent("trailEraserUsed", map[string]interface{}{"playerId": p.ID})
}

// moveSteps computes how many cells a player advances this sub-tick, per
// spec §4.3 step 5: 2 while boosted, else 1 normally, or (braking) 1 only
// every 5th tick — 20% of normal pace.
func moveSteps(p *models.Player, ticks int) int {
	if p.SpeedBoostUntil > time.Now().UnixMilli() {
		return 2
	}
	if p.IsBraking {
		if ticks%5 == 0 {
			return 1
		}
		return 0
	}
	return 1
}

func (l *Lobby) resolvePlayerMovement(p *models.Player) {
	g := l.game
	if p.SpeedBoostUntil > 0 && p.SpeedBoostUntil <= time.Now().UnixMilli() {
		p.SpeedBoostUntil = 0
		p.Speed = 1
	}

	steps := moveSteps(p, g.Ticks)
	d := directionDelta(p.Direction)

	for s := 0; s < steps; s++ {
		if p.Direction == models.DirCrashed {
			return
		}
		p.Trail = append(p.Trail, models.CellKey(p.X, p.Y))
		p.X += d[0]
		p.Y += d[1]

		if l.handleCollision(p) {
			return
		}
		l.handlePickup(p)
	}
}

func directionDelta(dir models.Direction) [2]int {
	switch dir {
	case models.DirUp:
		return [2]int{0, -1}
	case models.DirDown:
		return [2]int{0, 1}
	case models.DirLeft:
		return [2]int{-1, 0}
	case models.DirRight:
		return [2]int{1, 0}
	}
	return [2]int{0, 0}
}

// handleCollision tests wall/trail/obstacle collisions for p's new head
// cell. Returns true if movement resolution for p should stop this tick
// (either a shield absorb or a crash).
func (l *Lobby) handleCollision(p *models.Player) bool {
	g := l.game

	outOfBounds := p.X < 0 || p.Y < 0 || p.X >= g.GridSize || p.Y >= g.GridSize

	collided := outOfBounds
	if !collided {
		key := models.CellKey(p.X, p.Y)
		if _, ok := g.Obstacles[key]; ok {
			collided = true
		}
		if !collided {
			for _, other := range l.Players {
				trail := other.Trail
				if other.ID == p.ID && len(trail) > 0 {
					trail = trail[:len(trail)-1]
				}
				for _, c := range trail {
					if c == key {
						collided = true
						break
					}
				}
				if collided {
					break
				}
			}
		}
	}

	if !collided {
		return false
	}

	if p.HasShield {
		p.HasShield = false
		l.fabric.BroadcastToLobby(l.ID, "shieldAbsorbed", map[string]interface{}{"playerId": p.ID})
		l.recorder.RecordEvent("shieldAbsorbed", map[string]interface{}{"playerId": p.ID})
		return false
	}

	p.Direction = models.DirCrashed
	l.fabric.BroadcastToLobby(l.ID, "playerCrashed", map[string]interface{}{"playerId": p.ID})
	l.recorder.RecordEvent("playerCrashed", map[string]interface{}{"playerId": p.ID})
	return true
}

// handlePickup applies a power-up effect if p's head landed on one.
func (l *Lobby) handlePickup(p *models.Player) {
	g := l.game
	for i, pu := range g.PowerUps {
		if pu.X != p.X || pu.Y != p.Y {
			continue
		}
		g.PowerUps = append(g.PowerUps[:i], g.PowerUps[i+1:]...)

		now := time.Now().UnixMilli()
		switch pu.Type {
		case models.PowerUpSpeed:
			if p.SpeedBoostUntil > now {
				p.SpeedBoostUntil += int64(g.Settings.SpeedBoostDuration)
			} else {
				p.Speed = 2
				p.SpeedBoostUntil = now + int64(g.Settings.SpeedBoostDuration)
			}
		case models.PowerUpShield:
			p.HasShield = true
		case models.PowerUpTrailEraser:
			p.HasTrailEraser = true
		}

		l.recorder.RecordEvent("powerUpCollected", map[string]interface{}{"playerId": p.ID, "type": string(pu.Type)})
		return
	}
}

// checkGameEnd implements spec §4.2's shouldEnd rule and §4.3 step 8's
// end-of-game handling.
func (l *Lobby) checkGameEnd() {
	g := l.game
	if g == nil || g.GameOver {
		return
	}

	active := 0
	var sole *models.Player
	for i := range l.Players {
		if l.Players[i].Direction != models.DirCrashed {
			active++
			sole = &l.Players[i]
		}
	}

	shouldEnd := active == 0 || (active == 1 && len(l.Players) > 1)
	if !shouldEnd {
		return
	}

	g.GameOver = true
	winner := ""
	draw := active == 0
	var winnerColor string
	if active == 1 && sole != nil {
		winner = sole.ID
		winnerColor = sole.Color
	}
	g.Winner = winner

	l.recorder.RecordEvent("gameOver", map[string]interface{}{
		"winner": winner, "draw": draw,
	})

	l.fabric.BroadcastToLobby(l.ID, "gameOver", map[string]interface{}{
		"winner": nullableString(winner), "winnerColor": nullableString(winnerColor),
		"draw": draw, "replayAvailable": true,
	})

	l.State = models.LobbyFinished
	l.RoundNumber++

	occupied := make(grid.Occupancy)
	for k := range g.Obstacles {
		occupied[k] = struct{}{}
	}
	for i := range l.Players {
		x, y, dir := grid.SafeSpawn(g.GridSize, occupied, l.rng)
		occupied[models.CellKey(x, y)] = struct{}{}
		l.Players[i].X = x
		l.Players[i].Y = y
		l.Players[i].Direction = models.Direction(dir)
		l.Players[i].Trail = nil
		l.Players[i].Speed = 1
		l.Players[i].SpeedBoostUntil = 0
		l.Players[i].IsBraking = false
	}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
