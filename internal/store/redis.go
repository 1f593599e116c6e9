package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/sweatstake/game-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the two reads that dominate load: the active-game point lookup
// (every outer check and every viewer connect) and the odds-history range
// read (every viewer connect). Writes go to the primary store and invalidate
// the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through ---

func (s *CachedStore) GetActiveGame(ctx context.Context) (*model.Game, error) {
	data, err := s.rdb.Get(ctx, activeGameKey()).Bytes()
	if err == nil {
		var g model.Game
		if json.Unmarshal(data, &g) == nil {
			return &g, nil
		}
	}

	g, err := s.primary.GetActiveGame(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(g); err == nil {
		s.rdb.Set(ctx, activeGameKey(), data, s.ttl)
	}
	return g, nil
}

func (s *CachedStore) ListTimeOdds(ctx context.Context, gameID string) ([]model.TimeOdds, error) {
	data, err := s.rdb.Get(ctx, timeOddsKey(gameID)).Bytes()
	if err == nil {
		var snapshots []model.TimeOdds
		if json.Unmarshal(data, &snapshots) == nil {
			return snapshots, nil
		}
	}

	snapshots, err := s.primary.ListTimeOdds(ctx, gameID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snapshots); err == nil {
		s.rdb.Set(ctx, timeOddsKey(gameID), data, s.ttl)
	}
	return snapshots, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) AppendTimeOdds(ctx context.Context, snapshot *model.TimeOdds) error {
	if err := s.primary.AppendTimeOdds(ctx, snapshot); err != nil {
		return err
	}
	s.rdb.Del(ctx, timeOddsKey(snapshot.GameID))
	return nil
}

func (s *CachedStore) ActivateGame(ctx context.Context, id string) error {
	if err := s.primary.ActivateGame(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, activeGameKey())
	return nil
}

func (s *CachedStore) DeactivateAllGames(ctx context.Context) error {
	if err := s.primary.DeactivateAllGames(ctx); err != nil {
		return err
	}
	s.rdb.Del(ctx, activeGameKey())
	return nil
}

func (s *CachedStore) SetPregameBaseline(ctx context.Context, gameID string, homePayout, awayPayout decimal.Decimal, homeProb, awayProb float64) error {
	if err := s.primary.SetPregameBaseline(ctx, gameID, homePayout, awayPayout, homeProb, awayProb); err != nil {
		return err
	}
	s.rdb.Del(ctx, activeGameKey())
	return nil
}

func (s *CachedStore) SetGameEnded(ctx context.Context, gameID string) error {
	if err := s.primary.SetGameEnded(ctx, gameID); err != nil {
		return err
	}
	s.rdb.Del(ctx, activeGameKey())
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateGame(ctx context.Context, g *model.Game) error {
	return s.primary.CreateGame(ctx, g)
}

func (s *CachedStore) GetGameByExternalID(ctx context.Context, externalID string) (*model.Game, error) {
	return s.primary.GetGameByExternalID(ctx, externalID)
}

func (s *CachedStore) GetUserGameByID(ctx context.Context, id string) (*model.UserGame, error) {
	return s.primary.GetUserGameByID(ctx, id)
}

func (s *CachedStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	return s.primary.GetGame(ctx, id)
}

func (s *CachedStore) CreateUserGame(ctx context.Context, ug *model.UserGame) error {
	return s.primary.CreateUserGame(ctx, ug)
}

func (s *CachedStore) GetUserGame(ctx context.Context, userID, gameID string) (*model.UserGame, error) {
	return s.primary.GetUserGame(ctx, userID, gameID)
}

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.UserGamePosition) error {
	return s.primary.CreatePosition(ctx, p)
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.UserGamePosition, error) {
	return s.primary.GetPosition(ctx, id)
}

func (s *CachedStore) ClosePosition(ctx context.Context, id string, sellAmount, sellPrice decimal.Decimal, sellTime time.Time) (bool, error) {
	return s.primary.ClosePosition(ctx, id, sellAmount, sellPrice, sellTime)
}

func (s *CachedStore) ListPositions(ctx context.Context, userGameID string) ([]model.UserGamePosition, error) {
	return s.primary.ListPositions(ctx, userGameID)
}

func (s *CachedStore) ListOpenPositionsByGame(ctx context.Context, gameID string) ([]model.UserGamePosition, error) {
	return s.primary.ListOpenPositionsByGame(ctx, gameID)
}

func (s *CachedStore) ListParticipants(ctx context.Context, gameID string) ([]model.Participant, error) {
	return s.primary.ListParticipants(ctx, gameID)
}

// --- Cache keys ---

func activeGameKey() string          { return "game:active" }
func timeOddsKey(gameID string) string { return fmt.Sprintf("timeodds:%s", gameID) }
