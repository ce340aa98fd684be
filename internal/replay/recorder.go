// Package replay implements the append-only tick/action/event log and its
// persistence, grounded on the teacher's cmd/db/historian.go batch-and-flush
// idiom (there the batch flushes to Postgres on a queue; here the recorder
// is single-writer, owned by exactly one lobby worker, and flushes to the
// opaque key-value store directly on saveReplay).
package replay

import (
	"fmt"
	"time"

	"github.com/lightcycle-arena/server/internal/models"
)

// Recorder accumulates a single match's replay in memory. It is owned by
// exactly one lobby worker; no cross-goroutine writes are permitted (spec
// §9 "Replay recorder single-writer discipline").
type Recorder struct {
	startTime    time.Time
	tick         int
	initialState *models.InitialState
	lobbyName    string
	actions      []models.ReplayAction
	events       []models.ReplayEvent
}

// New creates an empty recorder. Begin must be called before any tick or
// record call.
func New() *Recorder {
	return &Recorder{}
}

// Begin captures initialState at game start and resets the tick counter.
func (r *Recorder) Begin(lobbyName string, initial models.InitialState) {
	r.startTime = time.Now()
	r.tick = 0
	r.lobbyName = lobbyName
	state := initial
	r.initialState = &state
	r.actions = nil
	r.events = nil
}

// Active reports whether Begin has been called without a subsequent save/discard.
func (r *Recorder) Active() bool {
	return r.initialState != nil
}

// Tick bumps the internal tick counter — called once per simulator tick,
// before any action/event recording for that tick.
func (r *Recorder) Tick() {
	r.tick++
}

// CurrentTick returns the recorder's tick counter.
func (r *Recorder) CurrentTick() int {
	return r.tick
}

func (r *Recorder) elapsedMS() int64 {
	return time.Since(r.startTime).Milliseconds()
}

// RecordAction appends a player-originated action at the current tick.
func (r *Recorder) RecordAction(playerID, kind string, payload interface{}) {
	r.actions = append(r.actions, models.ReplayAction{
		Tick:      r.tick,
		PlayerID:  playerID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: r.elapsedMS(),
	})
}

// RecordEvent appends a simulation-originated event at the current tick.
func (r *Recorder) RecordEvent(kind string, payload interface{}) {
	r.events = append(r.events, models.ReplayEvent{
		Tick:      r.tick,
		Kind:      kind,
		Payload:   payload,
		Timestamp: r.elapsedMS(),
	})
}

// LastGameOverEvent returns the payload of the most recently recorded
// gameOver event, used by Save so the persisted winner comes from the
// already-recorded event rather than being inferred fresh (spec §4.10).
func (r *Recorder) LastGameOverEvent() (payload interface{}, ok bool) {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == "gameOver" {
			return r.events[i].Payload, true
		}
	}
	return nil, false
}

// Build assembles the full ReplayData blob. Fails if Begin was never called
// or no event was ever recorded, per spec §4.10 "require initialState and
// at least one recorded event".
func (r *Recorder) Build(replayID, userID string) (models.ReplayData, error) {
	if r.initialState == nil {
		return models.ReplayData{}, fmt.Errorf("replay has no initial state")
	}
	if len(r.events) == 0 {
		return models.ReplayData{}, fmt.Errorf("replay has no recorded events")
	}

	winner := ""
	if payload, ok := r.LastGameOverEvent(); ok {
		if m, ok := payload.(map[string]interface{}); ok {
			if w, ok := m["winner"].(string); ok {
				winner = w
			}
		}
	}

	meta := models.ReplayMetadata{
		ReplayID:    replayID,
		UserID:      userID,
		LobbyName:   r.lobbyName,
		CreatedAt:   time.Now().UnixMilli(),
		Duration:    int64(time.Since(r.startTime).Seconds()),
		TotalTicks:  r.tick,
		Winner:      winner,
		PlayerCount: len(r.initialState.Players),
		GridSize:    r.initialState.GridSize,
	}

	return models.ReplayData{
		Metadata:     meta,
		InitialState: *r.initialState,
		Actions:      r.actions,
		Events:       r.events,
	}, nil
}

// Discard clears the recorder back to its zero state, e.g. when the lobby
// returns to waiting without saving.
func (r *Recorder) Discard() {
	*r = Recorder{}
}
