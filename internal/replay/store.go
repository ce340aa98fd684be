package replay

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/lightcycle-arena/server/internal/cache"
	"github.com/lightcycle-arena/server/internal/models"
)

// idAlphabet is used to generate the 12-char opaque replay id named in
// spec §4.10.
const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Store persists ReplayData blobs and per-user indexes in the opaque
// key-value store (Redis), matching the key layout in spec §6.
type Store struct {
	cache             *cache.Store
	maxReplaysPerUser int
}

// NewStore wraps a cache.Store for replay persistence, retaining at most
// maxReplaysPerUser entries per owning user (spec's configurable retention
// cap, internal/config's "max_replays_per_user"). A non-positive value
// falls back to models.MaxReplaysPerUser.
func NewStore(c *cache.Store, maxReplaysPerUser int) *Store {
	if maxReplaysPerUser <= 0 {
		maxReplaysPerUser = models.MaxReplaysPerUser
	}
	return &Store{cache: c, maxReplaysPerUser: maxReplaysPerUser}
}

func generateReplayID() (string, error) {
	buf := make([]byte, 12)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate replay id: %w", err)
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// Save persists a built Recorder as a new replay blob owned by userID,
// updating the user index (newest first, truncated to models.MaxReplaysPerUser,
// with the blobs of any evicted entries deleted), per spec §4.10.
func (s *Store) Save(ctx context.Context, r *Recorder, userID string) (replayID string, err error) {
	replayID, err = generateReplayID()
	if err != nil {
		return "", err
	}

	data, err := r.Build(replayID, userID)
	if err != nil {
		return "", err
	}

	blob, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal replay data: %w", err)
	}
	if err := s.cache.Set(ctx, cache.ReplayDataKey(replayID), blob, 0); err != nil {
		return "", err
	}

	index, err := s.loadIndex(ctx, userID)
	if err != nil {
		return "", err
	}

	metaNoUser := data.Metadata
	metaNoUser.UserID = ""
	entry := models.UserReplayIndexEntry{ReplayID: replayID, Metadata: metaNoUser}

	index.UserID = userID
	index.Replays = append([]models.UserReplayIndexEntry{entry}, index.Replays...)

	var evicted []models.UserReplayIndexEntry
	if len(index.Replays) > s.maxReplaysPerUser {
		evicted = index.Replays[s.maxReplaysPerUser:]
		index.Replays = index.Replays[:s.maxReplaysPerUser]
	}

	if err := s.writeIndex(ctx, index); err != nil {
		return "", err
	}

	for _, ev := range evicted {
		if err := s.cache.Del(ctx, cache.ReplayDataKey(ev.ReplayID)); err != nil {
			return "", fmt.Errorf("failed to delete evicted replay blob %s: %w", ev.ReplayID, err)
		}
	}

	return replayID, nil
}

// Load reads a replay blob by id. ok is false if it was not found.
func (s *Store) Load(ctx context.Context, replayID string) (data models.ReplayData, ok bool, err error) {
	raw, found, err := s.cache.Get(ctx, cache.ReplayDataKey(replayID))
	if err != nil {
		return models.ReplayData{}, false, err
	}
	if !found {
		return models.ReplayData{}, false, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.ReplayData{}, false, fmt.Errorf("failed to unmarshal replay data: %w", err)
	}
	return data, true, nil
}

// Delete removes a replay entry from its owner's index and deletes the blob.
func (s *Store) Delete(ctx context.Context, userID, replayID string) error {
	index, err := s.loadIndex(ctx, userID)
	if err != nil {
		return err
	}

	found := false
	filtered := index.Replays[:0]
	for _, e := range index.Replays {
		if e.ReplayID == replayID {
			found = true
			continue
		}
		filtered = append(filtered, e)
	}
	if !found {
		return fmt.Errorf("replay %s not found for user %s", replayID, userID)
	}
	index.Replays = filtered

	if err := s.writeIndex(ctx, index); err != nil {
		return err
	}
	return s.cache.Del(ctx, cache.ReplayDataKey(replayID))
}

// Index returns a user's full replay index (empty if none saved yet).
func (s *Store) Index(ctx context.Context, userID string) (models.UserReplayIndex, error) {
	return s.loadIndex(ctx, userID)
}

func (s *Store) loadIndex(ctx context.Context, userID string) (models.UserReplayIndex, error) {
	raw, ok, err := s.cache.Get(ctx, cache.ReplayUserIndexKey(userID))
	if err != nil {
		return models.UserReplayIndex{}, err
	}
	if !ok {
		return models.UserReplayIndex{UserID: userID}, nil
	}
	var index models.UserReplayIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		return models.UserReplayIndex{}, fmt.Errorf("failed to unmarshal replay index: %w", err)
	}
	return index, nil
}

func (s *Store) writeIndex(ctx context.Context, index models.UserReplayIndex) error {
	blob, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to marshal replay index: %w", err)
	}
	return s.cache.Set(ctx, cache.ReplayUserIndexKey(index.UserID), blob, 0)
}
