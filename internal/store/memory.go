package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sweatstake/game-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	games     map[string]*model.Game
	timeOdds  []model.TimeOdds
	userGames map[string]*model.UserGame
	positions map[string]*model.UserGamePosition
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:     make(map[string]*model.Game),
		userGames: make(map[string]*model.UserGame),
		positions: make(map[string]*model.UserGamePosition),
	}
}

func (s *MemoryStore) CreateGame(_ context.Context, g *model.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *g
	s.games[g.ID] = &copy
	return nil
}

func (s *MemoryStore) GetGame(_ context.Context, id string) (*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *g
	return &copy, nil
}

func (s *MemoryStore) GetGameByExternalID(_ context.Context, externalID string) (*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.games {
		if g.ExternalID == externalID {
			copy := *g
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetActiveGame(_ context.Context) (*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.games {
		if g.Active {
			copy := *g
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ActivateGame(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[id]; !ok {
		return ErrNotFound
	}
	for gid, g := range s.games {
		g.Active = gid == id
	}
	return nil
}

func (s *MemoryStore) DeactivateAllGames(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.games {
		g.Active = false
	}
	return nil
}

func (s *MemoryStore) SetPregameBaseline(_ context.Context, gameID string, homePayout, awayPayout decimal.Decimal, homeProb, awayProb float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return ErrNotFound
	}
	g.PregameHomePayout = homePayout
	g.PregameAwayPayout = awayPayout
	g.PregameHomeWinProb = homeProb
	g.PregameAwayWinProb = awayProb
	return nil
}

func (s *MemoryStore) SetGameEnded(_ context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return ErrNotFound
	}
	g.Ended = true
	return nil
}

func (s *MemoryStore) AppendTimeOdds(_ context.Context, snapshot *model.TimeOdds) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timeOdds = append(s.timeOdds, *snapshot)
	return nil
}

func (s *MemoryStore) ListTimeOdds(_ context.Context, gameID string) ([]model.TimeOdds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TimeOdds
	for _, to := range s.timeOdds {
		if to.GameID == gameID {
			result = append(result, to)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Time.Before(result[j].Time)
	})
	return result, nil
}

func (s *MemoryStore) CreateUserGame(_ context.Context, ug *model.UserGame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.userGames {
		if existing.UserID == ug.UserID && existing.GameID == ug.GameID {
			return ErrDuplicateUserGame
		}
	}
	copy := *ug
	s.userGames[ug.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUserGame(_ context.Context, userID, gameID string) (*model.UserGame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ug := range s.userGames {
		if ug.UserID == userID && ug.GameID == gameID {
			copy := *ug
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserGameByID(_ context.Context, id string) (*model.UserGame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ug, ok := s.userGames[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *ug
	return &copy, nil
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.UserGamePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.positions {
		if existing.UserGameID == p.UserGameID && existing.Open() {
			return ErrOpenPositionExists
		}
	}
	copy := clonePosition(p)
	s.positions[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.UserGamePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := clonePosition(p)
	return &copy, nil
}

func (s *MemoryStore) ClosePosition(_ context.Context, id string, sellAmount, sellPrice decimal.Decimal, sellTime time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return false, ErrNotFound
	}
	if !p.Open() {
		return false, nil
	}
	amt, price, ts := sellAmount, sellPrice, sellTime
	p.SellAmount = &amt
	p.SellPrice = &price
	p.SellTime = &ts
	return true, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userGameID string) ([]model.UserGamePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.UserGamePosition
	for _, p := range s.positions {
		if p.UserGameID == userGameID {
			result = append(result, clonePosition(p))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].BuyTime.Before(result[j].BuyTime)
	})
	return result, nil
}

func (s *MemoryStore) ListOpenPositionsByGame(_ context.Context, gameID string) ([]model.UserGamePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byUserGame := make(map[string]bool)
	for _, ug := range s.userGames {
		if ug.GameID == gameID {
			byUserGame[ug.ID] = true
		}
	}

	var result []model.UserGamePosition
	for _, p := range s.positions {
		if byUserGame[p.UserGameID] && p.Open() {
			result = append(result, clonePosition(p))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].BuyTime.Before(result[j].BuyTime)
	})
	return result, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, gameID string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var participants []model.Participant
	for _, ug := range s.userGames {
		if ug.GameID != gameID {
			continue
		}
		part := model.Participant{UserGame: *ug}
		for _, p := range s.positions {
			if p.UserGameID == ug.ID {
				part.Positions = append(part.Positions, clonePosition(p))
			}
		}
		sort.SliceStable(part.Positions, func(i, j int) bool {
			return part.Positions[i].BuyTime.Before(part.Positions[j].BuyTime)
		})
		participants = append(participants, part)
	}
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].UserGame.ID < participants[j].UserGame.ID
	})
	return participants, nil
}

// clonePosition deep-copies a position so callers cannot mutate stored
// sell-field pointers.
func clonePosition(p *model.UserGamePosition) model.UserGamePosition {
	copy := *p
	if p.SellAmount != nil {
		amt := *p.SellAmount
		copy.SellAmount = &amt
	}
	if p.SellPrice != nil {
		price := *p.SellPrice
		copy.SellPrice = &price
	}
	if p.SellTime != nil {
		ts := *p.SellTime
		copy.SellTime = &ts
	}
	return copy
}
