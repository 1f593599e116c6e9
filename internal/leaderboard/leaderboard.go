// Package leaderboard recomputes ranked mark-to-market standings from live
// prices. The recompute runs once per poll tick and once more at settlement
// with terminal prices.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sweatstake/game-engine/internal/metrics"
	"github.com/sweatstake/game-engine/internal/model"
	"github.com/sweatstake/game-engine/internal/pricing"
	"github.com/sweatstake/game-engine/internal/store"
)

// Size is the number of ranked entries kept after truncation.
const Size = 10

// Broadcaster pushes standings to live viewers.
type Broadcaster interface {
	BroadcastLeaderboard(entries []model.LeaderboardEntry)
}

// Aggregator computes and broadcasts standings, and caches the latest
// result so newly connecting viewers get it in their snapshot.
type Aggregator struct {
	store store.Store
	hub   Broadcaster

	mu     sync.RWMutex
	latest []model.LeaderboardEntry
}

// NewAggregator creates an aggregator.
func NewAggregator(st store.Store, hub Broadcaster) *Aggregator {
	return &Aggregator{store: st, hub: hub}
}

// Recompute reads every participant's positions in one round trip, computes
// standings at the given prices, caches them, and broadcasts.
func (a *Aggregator) Recompute(ctx context.Context, gameID string, homePrice, awayPrice decimal.Decimal) ([]model.LeaderboardEntry, error) {
	participants, err := a.store.ListParticipants(ctx, gameID)
	if err != nil {
		metrics.LeaderboardComputations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list participants: %w", err)
	}

	entries := Compute(participants, homePrice, awayPrice)

	a.mu.Lock()
	a.latest = entries
	a.mu.Unlock()

	if a.hub != nil {
		a.hub.BroadcastLeaderboard(entries)
	}
	metrics.LeaderboardComputations.WithLabelValues("ok").Inc()
	return entries, nil
}

// Latest returns the most recently computed standings, or nil if none have
// been computed since startup.
func (a *Aggregator) Latest() []model.LeaderboardEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Reset clears the cached standings (on game deactivation).
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.latest = nil
	a.mu.Unlock()
}

// Compute builds standings from participants at the given prices.
// Participants with zero trades are excluded — they have not engaged and
// are not competitive entrants. Each participant starts from their fixed
// bankroll; every position subtracts its buy amount and adds back either
// the realized sell amount or the open position's mark-to-market value.
// Totals are rounded to 2 decimals, sorted descending, truncated to Size.
func Compute(participants []model.Participant, homePrice, awayPrice decimal.Decimal) []model.LeaderboardEntry {
	entries := make([]model.LeaderboardEntry, 0, len(participants))

	for _, part := range participants {
		if len(part.Positions) == 0 {
			continue
		}

		total := part.UserGame.Bankroll
		for _, p := range part.Positions {
			total = total.Sub(p.BuyAmount)
			if !p.Open() {
				total = total.Add(*p.SellAmount)
				continue
			}
			currentPrice := homePrice
			if p.Team == model.SideAway {
				currentPrice = awayPrice
			}
			total = total.Add(pricing.MarkToMarket(p.BuyAmount, p.BuyPrice, currentPrice))
		}

		entries = append(entries, model.LeaderboardEntry{
			UserID:   part.UserGame.UserID,
			Username: part.UserGame.Username,
			Bankroll: total.Round(2),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Bankroll.GreaterThan(entries[j].Bankroll)
	})
	if len(entries) > Size {
		entries = entries[:Size]
	}
	return entries
}
