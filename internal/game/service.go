// Package game provides the HTTP handlers for game activation, joining,
// and position trading.
//
// All monetary values use shopspring/decimal — never float64 for money.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sweatstake/game-engine/internal/leaderboard"
	"github.com/sweatstake/game-engine/internal/model"
	"github.com/sweatstake/game-engine/internal/odds"
	"github.com/sweatstake/game-engine/internal/pricing"
	"github.com/sweatstake/game-engine/internal/store"
)

// EventSource discovers upcoming games and quotes pregame odds.
type EventSource interface {
	FetchEvents(ctx context.Context, sportKey string) ([]odds.Event, error)
	FetchQuote(ctx context.Context, game *model.Game) (*odds.Quote, error)
}

// Checker lets handlers nudge the monitor outside its timer cadence.
type Checker interface {
	CheckNow(ctx context.Context)
}

// Service handles game and position operations. Uses a mutex for
// serialized trade execution (single-instance).
type Service struct {
	store            store.Store
	events           EventSource
	board            *leaderboard.Aggregator
	monitor          Checker
	startingBankroll decimal.Decimal
	mu               sync.Mutex
}

// NewService creates a game service. monitor may be nil in tests.
func NewService(st store.Store, events EventSource, board *leaderboard.Aggregator, monitor Checker, startingBankroll int64) *Service {
	return &Service{
		store:            st,
		events:           events,
		board:            board,
		monitor:          monitor,
		startingBankroll: decimal.NewFromInt(startingBankroll),
	}
}

// Routes mounts the service's handlers on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/games/active", s.GetActiveGame)
	r.Get("/games/available", s.ListAvailableGames)
	r.Post("/games/active", s.ActivateGame)
	r.Delete("/games/active", s.DeactivateGame)

	r.Post("/usergames", s.JoinGame)
	r.Get("/usergames", s.FindUserGame)
	r.Get("/usergames/{userGameID}", s.GetUserGame)
	r.Get("/usergames/{userGameID}/positions", s.ListPositions)

	r.Post("/positions", s.BuyPosition)
	r.Post("/positions/{positionID}/sell", s.SellPosition)

	r.Get("/leaderboard", s.GetLeaderboard)
}

// Snapshot implements the connect-time snapshot for the push channel: the
// active game's full price history plus the latest standings.
func (s *Service) Snapshot(ctx context.Context) ([]model.TimeOdds, []model.LeaderboardEntry, error) {
	game, err := s.store.GetActiveGame(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.board.Latest(), nil
		}
		return nil, nil, err
	}
	history, err := s.store.ListTimeOdds(ctx, game.ID)
	if err != nil {
		return nil, nil, err
	}
	return history, s.board.Latest(), nil
}

// --- Request/Response types ---

// ActivateGameRequest is the JSON body for game activation. The fields
// mirror one event from GET /games/available.
type ActivateGameRequest struct {
	ExternalID   string    `json:"id"`
	SportKey     string    `json:"sport_key"`
	SportTitle   string    `json:"sport_title"`
	HomeTeam     string    `json:"home_team"`
	AwayTeam     string    `json:"away_team"`
	CommenceTime time.Time `json:"commence_time"`
}

// JoinGameRequest is the JSON body for POST /usergames.
type JoinGameRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// BuyRequest is the JSON body for POST /positions.
type BuyRequest struct {
	UserGameID string          `json:"user_game_id"`
	Team       string          `json:"team"` // "home" or "away"
	Amount     decimal.Decimal `json:"amount"`
}

// --- HTTP Handlers ---

// GetActiveGame handles GET /api/v1/games/active
func (s *Service) GetActiveGame(w http.ResponseWriter, r *http.Request) {
	game, err := s.store.GetActiveGame(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "no active game", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load active game", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, game)
}

// ListAvailableGames handles GET /api/v1/games/available?sportKey={key}
// Returns the provider's upcoming events for the sport, filtered to those
// starting today in US Eastern time.
func (s *Service) ListAvailableGames(w http.ResponseWriter, r *http.Request) {
	sportKey := r.URL.Query().Get("sportKey")
	if sportKey == "" {
		writeError(w, "sportKey query parameter is required", http.StatusBadRequest)
		return
	}

	events, err := s.events.FetchEvents(r.Context(), sportKey)
	if err != nil {
		slog.Error("event discovery failed", "sport", sportKey, "err", err)
		writeError(w, "failed to fetch events", http.StatusBadGateway)
		return
	}

	eastern, err := time.LoadLocation("America/New_York")
	if err != nil {
		writeError(w, "timezone database unavailable", http.StatusInternalServerError)
		return
	}
	day := r.URL.Query().Get("date")
	if day == "" {
		day = time.Now().In(eastern).Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	filtered := make([]odds.Event, 0, len(events))
	for _, ev := range events {
		if ev.CommenceTime.In(eastern).Format("2006-01-02") == day {
			filtered = append(filtered, ev)
		}
	}

	writeJSON(w, http.StatusOK, filtered)
}

// ActivateGame handles POST /api/v1/games/active
// Activates the requested game as the single live game, creating it from
// the event payload if it has not been seen before. A newly created game
// gets its pregame baseline from a quote fetched at activation time; if the
// fetch fails the baseline is captured by the first successful poll instead.
func (s *Service) ActivateGame(w http.ResponseWriter, r *http.Request) {
	var req ActivateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ExternalID == "" || req.SportKey == "" || req.HomeTeam == "" || req.AwayTeam == "" {
		writeError(w, "id, sport_key, home_team, and away_team are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	game, err := s.store.GetGameByExternalID(ctx, req.ExternalID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, "failed to load game", http.StatusInternalServerError)
		return
	}

	if game == nil {
		game = &model.Game{
			ID:           uuid.New().String(),
			ExternalID:   req.ExternalID,
			SportKey:     req.SportKey,
			SportTitle:   req.SportTitle,
			HomeTeam:     req.HomeTeam,
			AwayTeam:     req.AwayTeam,
			CommenceTime: req.CommenceTime,
		}

		if quote, err := s.events.FetchQuote(ctx, game); err != nil {
			slog.Warn("pregame quote fetch failed at activation", "game", game.ID, "err", err)
		} else if quote != nil {
			game.PregameHomePayout = quote.HomePayout
			game.PregameAwayPayout = quote.AwayPayout
			game.PregameHomeWinProb = quote.HomeWinProb
			game.PregameAwayWinProb = quote.AwayWinProb
		}

		if err := s.store.CreateGame(ctx, game); err != nil {
			writeError(w, "failed to create game", http.StatusInternalServerError)
			return
		}
	}

	if game.Ended {
		writeError(w, "game has already ended", http.StatusConflict)
		return
	}

	if err := s.store.ActivateGame(ctx, game.ID); err != nil {
		writeError(w, "failed to activate game", http.StatusInternalServerError)
		return
	}
	game.Active = true

	if s.monitor != nil {
		s.monitor.CheckNow(ctx)
	}

	slog.Info("game activated",
		"game", game.ID,
		"sport", game.SportKey,
		"matchup", game.AwayTeam+" at "+game.HomeTeam,
		"commence", game.CommenceTime,
	)

	writeJSON(w, http.StatusCreated, game)
}

// DeactivateGame handles DELETE /api/v1/games/active
func (s *Service) DeactivateGame(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeactivateAllGames(r.Context()); err != nil {
		writeError(w, "failed to deactivate", http.StatusInternalServerError)
		return
	}

	if s.monitor != nil {
		s.monitor.CheckNow(r.Context())
	}

	slog.Info("active game deactivated")
	w.WriteHeader(http.StatusNoContent)
}

// JoinGame handles POST /api/v1/usergames
// Enrolls a user in the active game with the starting bankroll.
func (s *Service) JoinGame(w http.ResponseWriter, r *http.Request) {
	var req JoinGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Username == "" {
		writeError(w, "user_id and username are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	game, err := s.store.GetActiveGame(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "no active game to join", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load active game", http.StatusInternalServerError)
		return
	}
	if game.Ended {
		writeError(w, "game has already ended", http.StatusConflict)
		return
	}

	ug := &model.UserGame{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Username:  req.Username,
		GameID:    game.ID,
		Bankroll:  s.startingBankroll,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUserGame(ctx, ug); err != nil {
		if errors.Is(err, store.ErrDuplicateUserGame) {
			writeError(w, "user already joined this game", http.StatusConflict)
			return
		}
		writeError(w, "failed to join game", http.StatusInternalServerError)
		return
	}

	slog.Info("user joined game", "user", req.UserID, "game", game.ID)
	writeJSON(w, http.StatusCreated, ug)
}

// FindUserGame handles GET /api/v1/usergames?userId={id}
// Looks up the user's session in the active game, so a returning client can
// resume without storing the user game ID.
func (s *Service) FindUserGame(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	game, err := s.store.GetActiveGame(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "no active game", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load active game", http.StatusInternalServerError)
		return
	}

	ug, err := s.store.GetUserGame(ctx, userID, game.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "user has not joined the active game", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load user game", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ug)
}

// GetUserGame handles GET /api/v1/usergames/{userGameID}
func (s *Service) GetUserGame(w http.ResponseWriter, r *http.Request) {
	userGameID := chi.URLParam(r, "userGameID")

	ug, err := s.store.GetUserGameByID(r.Context(), userGameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "user game not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load user game", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ug)
}

// ListPositions handles GET /api/v1/usergames/{userGameID}/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	userGameID := chi.URLParam(r, "userGameID")

	positions, err := s.store.ListPositions(r.Context(), userGameID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, positions)
}

// BuyPosition handles POST /api/v1/positions
// Opens a position on one side of the active game at the latest snapshot
// price. Requires a live price, available funds, and no other open position
// for the user game.
func (s *Service) BuyPosition(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.UserGameID == "" {
		writeError(w, "user_game_id is required", http.StatusBadRequest)
		return
	}
	if req.Team != model.SideHome && req.Team != model.SideAway {
		writeError(w, "team must be home or away", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Serialize trade execution.
	s.mu.Lock()
	defer s.mu.Unlock()

	game, err := s.store.GetActiveGame(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "no active game", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load active game", http.StatusInternalServerError)
		return
	}
	if game.Ended {
		writeError(w, "game has already ended", http.StatusConflict)
		return
	}

	ug, err := s.store.GetUserGameByID(ctx, req.UserGameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "user game not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load user game", http.StatusInternalServerError)
		return
	}
	if ug.GameID != game.ID {
		writeError(w, "user game does not belong to the active game", http.StatusConflict)
		return
	}

	price, err := s.currentPrice(ctx, game.ID, req.Team)
	if err != nil {
		writeError(w, "failed to load current price", http.StatusInternalServerError)
		return
	}
	if price.LessThanOrEqual(decimal.Zero) {
		writeError(w, "no live price for that side", http.StatusConflict)
		return
	}

	available, err := s.availableFunds(ctx, ug)
	if err != nil {
		writeError(w, "failed to compute available funds", http.StatusInternalServerError)
		return
	}
	if req.Amount.GreaterThan(available) {
		writeError(w, "insufficient funds", http.StatusConflict)
		return
	}

	position := &model.UserGamePosition{
		ID:         uuid.New().String(),
		UserGameID: ug.ID,
		Team:       req.Team,
		BuyAmount:  req.Amount,
		BuyPrice:   price,
		BuyTime:    time.Now().UTC(),
	}
	if err := s.store.CreatePosition(ctx, position); err != nil {
		if errors.Is(err, store.ErrOpenPositionExists) {
			writeError(w, "an open position already exists", http.StatusConflict)
			return
		}
		writeError(w, "failed to create position", http.StatusInternalServerError)
		return
	}

	slog.Info("position opened",
		"position", position.ID,
		"user_game", ug.ID,
		"team", req.Team,
		"amount", req.Amount.String(),
		"price", price.String(),
	)

	writeJSON(w, http.StatusCreated, position)
}

// SellPosition handles POST /api/v1/positions/{positionID}/sell
// Closes the whole position at its mark-to-market value against the latest
// snapshot price.
func (s *Service) SellPosition(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	position, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "position not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}
	if !position.Open() {
		writeError(w, "position is already closed", http.StatusConflict)
		return
	}

	ug, err := s.store.GetUserGameByID(ctx, position.UserGameID)
	if err != nil {
		writeError(w, "failed to load user game", http.StatusInternalServerError)
		return
	}

	game, err := s.store.GetGame(ctx, ug.GameID)
	if err != nil {
		writeError(w, "failed to load game", http.StatusInternalServerError)
		return
	}
	if game.Ended {
		// Settlement owns closes after the game ends.
		writeError(w, "game has ended; position settles automatically", http.StatusConflict)
		return
	}

	price, err := s.currentPrice(ctx, game.ID, position.Team)
	if err != nil {
		writeError(w, "failed to load current price", http.StatusInternalServerError)
		return
	}
	if price.LessThanOrEqual(decimal.Zero) {
		writeError(w, "no live price for that side", http.StatusConflict)
		return
	}

	sellAmount := pricing.MarkToMarket(position.BuyAmount, position.BuyPrice, price)
	now := time.Now().UTC()

	closed, err := s.store.ClosePosition(ctx, position.ID, sellAmount, price, now)
	if err != nil {
		writeError(w, "failed to close position", http.StatusInternalServerError)
		return
	}
	if !closed {
		writeError(w, "position is already closed", http.StatusConflict)
		return
	}

	position.SellAmount = &sellAmount
	position.SellPrice = &price
	position.SellTime = &now

	slog.Info("position closed",
		"position", position.ID,
		"sell_amount", sellAmount.String(),
		"sell_price", price.String(),
	)

	writeJSON(w, http.StatusOK, position)
}

// GetLeaderboard handles GET /api/v1/leaderboard
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries := s.board.Latest()
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

// currentPrice returns the requested side's price from the latest snapshot,
// or zero if no snapshot exists yet.
func (s *Service) currentPrice(ctx context.Context, gameID, team string) (decimal.Decimal, error) {
	history, err := s.store.ListTimeOdds(ctx, gameID)
	if err != nil {
		return decimal.Zero, err
	}
	if len(history) == 0 {
		return decimal.Zero, nil
	}
	last := history[len(history)-1]
	if team == model.SideAway {
		return last.AwayPrice, nil
	}
	return last.HomePrice, nil
}

// availableFunds is the bankroll minus every buy plus every realized sell.
// Open positions hold their stake until they are sold or settled.
func (s *Service) availableFunds(ctx context.Context, ug *model.UserGame) (decimal.Decimal, error) {
	positions, err := s.store.ListPositions(ctx, ug.ID)
	if err != nil {
		return decimal.Zero, err
	}
	available := ug.Bankroll
	for _, p := range positions {
		available = available.Sub(p.BuyAmount)
		if !p.Open() {
			available = available.Add(*p.SellAmount)
		}
	}
	return available, nil
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
