// Package settle closes all open positions exactly once when a game
// completes.
package settle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sweatstake/game-engine/internal/leaderboard"
	"github.com/sweatstake/game-engine/internal/metrics"
	"github.com/sweatstake/game-engine/internal/model"
	"github.com/sweatstake/game-engine/internal/scores"
	"github.com/sweatstake/game-engine/internal/store"
)

// Hub receives the terminal broadcasts.
type Hub interface {
	BroadcastOddsHistory(history []model.TimeOdds)
	BroadcastGameEnd()
}

// Engine settles a completed game: it closes every open position at a
// deterministic payout, appends a terminal price snapshot, marks the game
// ended, and broadcasts the final state.
//
// The game's ended flag is the sole idempotency guard — the caller must
// check it before invoking Settle, and Settle itself is safe to resume: a
// position's settlement write is conditional on it still being open, so a
// retry after a partial failure never re-settles anything.
type Engine struct {
	store store.Store
	board *leaderboard.Aggregator
	hub   Hub
}

// NewEngine creates a settlement engine.
func NewEngine(st store.Store, board *leaderboard.Aggregator, hub Hub) *Engine {
	return &Engine{store: st, board: board, hub: hub}
}

// Settle runs settlement for a completed game. The ended flag is flipped
// only after every position write and the terminal snapshot have succeeded,
// so a partial failure leaves the game eligible for a retried settlement on
// the next poll tick.
//
// Tie policy: an exact score tie is a push — every open position is
// refunded at its buy price, no side is declared a winner, and no terminal
// snapshot is pinned (there is no winning probability to pin it to).
func (e *Engine) Settle(ctx context.Context, game *model.Game, result *scores.CompletionResult) error {
	if game.Ended {
		return nil
	}
	if result == nil || !result.Completed {
		return fmt.Errorf("settle %s: game is not complete", game.ID)
	}

	now := time.Now().UTC()

	positions, err := e.store.ListOpenPositionsByGame(ctx, game.ID)
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("settle %s: load open positions: %w", game.ID, err)
	}

	tie := result.HomeScore == result.AwayScore
	winner := model.SideHome
	if result.AwayScore > result.HomeScore {
		winner = model.SideAway
	}

	for i := range positions {
		p := &positions[i]

		var sellAmount, sellPrice decimal.Decimal
		switch {
		case tie:
			sellAmount, sellPrice = p.BuyAmount, p.BuyPrice
		case p.Team == winner:
			payout := game.PregamePayout(winner)
			sellAmount = p.BuyAmount.Mul(payout).Div(p.BuyPrice).Round(2)
			sellPrice = payout
		default:
			sellAmount, sellPrice = decimal.Zero, decimal.Zero
		}

		closed, err := e.store.ClosePosition(ctx, p.ID, sellAmount, sellPrice, now)
		if err != nil {
			metrics.SettlementsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("settle %s: close position %s: %w", game.ID, p.ID, err)
		}
		if closed {
			metrics.PositionsSettled.Inc()
		}
	}

	var homePrice, awayPrice decimal.Decimal
	if !tie {
		// Terminal snapshot: winner pinned to probability 100 at full
		// pregame payout, loser to 0. Keeps the price chart continuous
		// through game end.
		snapshot := &model.TimeOdds{
			ID:     uuid.New().String(),
			GameID: game.ID,
			Time:   now,
		}
		if winner == model.SideHome {
			snapshot.HomeWinProb, snapshot.AwayWinProb = 100, 0
			snapshot.HomePrice, snapshot.AwayPrice = game.PregameHomePayout, decimal.Zero
		} else {
			snapshot.HomeWinProb, snapshot.AwayWinProb = 0, 100
			snapshot.HomePrice, snapshot.AwayPrice = decimal.Zero, game.PregameAwayPayout
		}
		if err := e.store.AppendTimeOdds(ctx, snapshot); err != nil {
			metrics.SettlementsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("settle %s: append terminal snapshot: %w", game.ID, err)
		}
		homePrice, awayPrice = snapshot.HomePrice, snapshot.AwayPrice
	}

	if err := e.store.SetGameEnded(ctx, game.ID); err != nil {
		metrics.SettlementsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("settle %s: mark ended: %w", game.ID, err)
	}
	game.Ended = true

	slog.Info("game settled",
		"game", game.ID,
		"home_score", result.HomeScore,
		"away_score", result.AwayScore,
		"tie", tie,
		"winner", winner,
		"positions", len(positions),
	)
	metrics.SettlementsTotal.WithLabelValues("ok").Inc()

	// Terminal broadcasts: full history, standings at terminal prices,
	// then the end-of-game signal.
	if history, err := e.store.ListTimeOdds(ctx, game.ID); err == nil {
		e.hub.BroadcastOddsHistory(history)
	} else {
		slog.Error("post-settlement history read failed", "game", game.ID, "err", err)
	}
	if _, err := e.board.Recompute(ctx, game.ID, homePrice, awayPrice); err != nil {
		slog.Error("post-settlement leaderboard failed", "game", game.ID, "err", err)
	}
	e.hub.BroadcastGameEnd()

	return nil
}
