// Package store defines the persistence interface for the game engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for the poll-loop hot path), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sweatstake/game-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrOpenPositionExists is returned when a buy would create a second
	// open position for the same user game.
	ErrOpenPositionExists = errors.New("store: user game already has an open position")

	// ErrDuplicateUserGame is returned when a user joins a game twice.
	ErrDuplicateUserGame = errors.New("store: user game already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer over the reads that run on
// every poll tick and every viewer connect.
type Store interface {
	// --- Game operations ---

	// CreateGame persists a new game.
	CreateGame(ctx context.Context, game *model.Game) error

	// GetGame retrieves a game by its ID.
	GetGame(ctx context.Context, id string) (*model.Game, error)

	// GetGameByExternalID retrieves a game by the odds provider's event ID.
	GetGameByExternalID(ctx context.Context, externalID string) (*model.Game, error)

	// GetActiveGame retrieves the single active game, or ErrNotFound.
	GetActiveGame(ctx context.Context) (*model.Game, error)

	// ActivateGame marks one game active and every other game inactive.
	ActivateGame(ctx context.Context, id string) error

	// DeactivateAllGames clears the active flag everywhere.
	DeactivateAllGames(ctx context.Context) error

	// SetPregameBaseline writes the immutable pregame payout/probability
	// baseline onto a game. Called once, at the first successful odds fetch.
	SetPregameBaseline(ctx context.Context, gameID string, homePayout, awayPayout decimal.Decimal, homeProb, awayProb float64) error

	// SetGameEnded flips the terminal ended flag.
	SetGameEnded(ctx context.Context, gameID string) error

	// --- Price snapshots (append-only time series) ---

	// AppendTimeOdds appends one price snapshot.
	AppendTimeOdds(ctx context.Context, snapshot *model.TimeOdds) error

	// ListTimeOdds returns a game's snapshots ordered by time ascending.
	ListTimeOdds(ctx context.Context, gameID string) ([]model.TimeOdds, error)

	// --- User games ---

	// CreateUserGame persists a participant's session in a game.
	CreateUserGame(ctx context.Context, ug *model.UserGame) error

	// GetUserGame retrieves a participant's session by user and game.
	GetUserGame(ctx context.Context, userID, gameID string) (*model.UserGame, error)

	// GetUserGameByID retrieves a participant's session by its ID.
	GetUserGameByID(ctx context.Context, id string) (*model.UserGame, error)

	// --- Positions ---

	// CreatePosition persists a new open position. Returns
	// ErrOpenPositionExists if the user game already has one — the
	// "at most one open position" invariant lives here so it survives a
	// race between two concurrent buys.
	CreatePosition(ctx context.Context, p *model.UserGamePosition) error

	// GetPosition retrieves a position by its ID.
	GetPosition(ctx context.Context, id string) (*model.UserGamePosition, error)

	// ClosePosition writes the sell fields if and only if the position is
	// still open. Returns false (and no error) when the position was
	// already closed, which makes settlement retries no-ops.
	ClosePosition(ctx context.Context, id string, sellAmount, sellPrice decimal.Decimal, sellTime time.Time) (bool, error)

	// ListPositions returns a user game's positions ordered by buy time.
	ListPositions(ctx context.Context, userGameID string) ([]model.UserGamePosition, error)

	// ListOpenPositionsByGame returns every open position across all
	// participants of a game. Used by bulk settlement.
	ListOpenPositionsByGame(ctx context.Context, gameID string) ([]model.UserGamePosition, error)

	// ListParticipants returns every user game in a game together with its
	// full position history, in one round trip. Used by the leaderboard,
	// which runs once per poll tick.
	ListParticipants(ctx context.Context, gameID string) ([]model.Participant, error)
}
