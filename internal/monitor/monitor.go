// Package monitor drives the live game loop: an outer check decides
// whether the active game should be polled, and an inner poll fetches
// quotes, persists price snapshots, checks for completion, and triggers
// settlement.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sweatstake/game-engine/internal/config"
	"github.com/sweatstake/game-engine/internal/leaderboard"
	"github.com/sweatstake/game-engine/internal/metrics"
	"github.com/sweatstake/game-engine/internal/model"
	"github.com/sweatstake/game-engine/internal/odds"
	"github.com/sweatstake/game-engine/internal/pricing"
	"github.com/sweatstake/game-engine/internal/scores"
	"github.com/sweatstake/game-engine/internal/store"
)

// QuoteSource fetches the current odds quote for a game.
type QuoteSource interface {
	FetchQuote(ctx context.Context, game *model.Game) (*odds.Quote, error)
}

// ScoreChecker reports whether a game has completed.
type ScoreChecker interface {
	Check(ctx context.Context, game *model.Game) *scores.CompletionResult
}

// Settler settles a completed game.
type Settler interface {
	Settle(ctx context.Context, game *model.Game, result *scores.CompletionResult) error
}

// Hub receives the per-tick history broadcast.
type Hub interface {
	BroadcastOddsHistory(history []model.TimeOdds)
}

// Monitor owns the two-level polling lifecycle. The outer loop runs every
// CheckInterval and decides whether the active game is inside its live
// window; the inner loop runs every PollInterval while it is. At most one
// inner loop exists at a time.
type Monitor struct {
	store   store.Store
	quotes  QuoteSource
	scorer  ScoreChecker
	settler Settler
	board   *leaderboard.Aggregator
	hub     Hub

	checkInterval   time.Duration
	pollInterval    time.Duration
	maxGameDuration time.Duration

	mu         sync.Mutex
	game       *model.Game
	history    []model.TimeOdds
	pollCancel context.CancelFunc
	pollDone   chan struct{}

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ticking atomic.Bool
}

// New creates a monitor. It does not start any loops; call Start.
func New(st store.Store, quotes QuoteSource, scorer ScoreChecker, settler Settler, board *leaderboard.Aggregator, hub Hub, cfg config.MonitorConfig) *Monitor {
	return &Monitor{
		store:           st,
		quotes:          quotes,
		scorer:          scorer,
		settler:         settler,
		board:           board,
		hub:             hub,
		checkInterval:   cfg.CheckInterval,
		pollInterval:    cfg.PollInterval,
		maxGameDuration: cfg.MaxGameDuration,
	}
}

// Start launches the outer check loop. Calling Start on a running monitor
// is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
}

// Stop halts both loops and blocks until they have exited.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.started = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

// CheckNow runs one outer check immediately, outside the timer cadence.
// Called after activation and deactivation so the poll loop reacts without
// waiting out the check interval.
func (m *Monitor) CheckNow(ctx context.Context) {
	m.check(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	defer m.stopPolling()

	m.check(ctx)
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check is the outer loop body: poll the active game while it is inside
// its live window, otherwise tear the inner loop down.
func (m *Monitor) check(ctx context.Context) {
	game, err := m.store.GetActiveGame(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("active game lookup failed", "err", err)
			return
		}
		m.stopPolling()
		return
	}

	now := time.Now()
	live := !game.Ended &&
		!now.Before(game.CommenceTime) &&
		now.Before(game.CommenceTime.Add(m.maxGameDuration))
	if !live {
		m.stopPolling()
		return
	}

	m.ensurePolling(ctx, game)
}

// ensurePolling starts the inner loop for game if it is not already
// running. A loop polling a different game is stopped first.
func (m *Monitor) ensurePolling(ctx context.Context, game *model.Game) {
	m.mu.Lock()
	if m.pollCancel != nil {
		same := m.game != nil && m.game.ID == game.ID
		m.mu.Unlock()
		if same {
			return
		}
		m.stopPolling()
	} else {
		m.mu.Unlock()
	}

	// Hydrate the history cache so reconnect broadcasts and the no-data
	// fallback survive a restart mid-game.
	history, err := m.store.ListTimeOdds(ctx, game.ID)
	if err != nil {
		slog.Error("history hydration failed", "game", game.ID, "err", err)
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	if m.pollCancel != nil {
		// Lost a race with a concurrent check; keep the existing loop.
		m.mu.Unlock()
		cancel()
		return
	}
	m.game = game
	m.history = history
	m.pollCancel = cancel
	m.pollDone = done
	m.mu.Unlock()

	slog.Info("polling started",
		"game", game.ID,
		"matchup", game.AwayTeam+" at "+game.HomeTeam,
		"snapshots", len(history),
	)
	go m.pollLoop(pollCtx, done)
}

// stopPolling stops the inner loop, waits for it to exit, and clears the
// per-game state. Safe to call when no loop is running.
func (m *Monitor) stopPolling() {
	m.mu.Lock()
	cancel, done := m.pollCancel, m.pollDone
	m.pollCancel, m.pollDone = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.mu.Lock()
	gameID := ""
	if m.game != nil {
		gameID = m.game.ID
	}
	m.game = nil
	m.history = nil
	m.mu.Unlock()

	m.board.Reset()
	slog.Info("polling stopped", "game", gameID)
}

// requestStop cancels the inner loop without waiting for it. Used from
// inside a tick after settlement; the next outer check does the cleanup.
func (m *Monitor) requestStop() {
	m.mu.Lock()
	cancel := m.pollCancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Monitor) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.tick(ctx)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick is the inner loop body: check for completion first, otherwise fetch
// a quote, persist a snapshot, and push history plus standings. Ticks are
// single-flight; a tick that finds the previous one still running skips.
func (m *Monitor) tick(ctx context.Context) {
	if !m.ticking.CompareAndSwap(false, true) {
		metrics.PollTicksTotal.WithLabelValues("skipped").Inc()
		return
	}
	defer m.ticking.Store(false)

	m.mu.Lock()
	game := m.game
	m.mu.Unlock()
	if game == nil {
		return
	}

	if result := m.scorer.Check(ctx, game); result != nil && result.Completed {
		if err := m.settler.Settle(ctx, game, result); err != nil {
			// Leave the loop running; the ended flag makes the retry safe.
			slog.Error("settlement failed", "game", game.ID, "err", err)
			metrics.PollTicksTotal.WithLabelValues("error").Inc()
			return
		}
		metrics.PollTicksTotal.WithLabelValues("settled").Inc()
		m.requestStop()
		return
	}

	quote, err := m.quotes.FetchQuote(ctx, game)
	if err != nil {
		slog.Error("quote fetch failed", "game", game.ID, "err", err)
		metrics.OddsFetchesTotal.WithLabelValues("error").Inc()
		quote = nil
	}

	now := time.Now().UTC()
	var snapshot *model.TimeOdds
	if quote != nil {
		metrics.OddsFetchesTotal.WithLabelValues("ok").Inc()
		if !game.HasPregameBaseline() {
			// First observed quote fixes the pregame baseline that all
			// later price derivation is relative to.
			if err := m.store.SetPregameBaseline(ctx, game.ID,
				quote.HomePayout, quote.AwayPayout,
				quote.HomeWinProb, quote.AwayWinProb); err != nil {
				slog.Error("baseline write failed", "game", game.ID, "err", err)
				metrics.PollTicksTotal.WithLabelValues("error").Inc()
				return
			}
			game.PregameHomePayout = quote.HomePayout
			game.PregameAwayPayout = quote.AwayPayout
			game.PregameHomeWinProb = quote.HomeWinProb
			game.PregameAwayWinProb = quote.AwayWinProb
			slog.Info("pregame baseline captured",
				"game", game.ID,
				"home_payout", quote.HomePayout,
				"away_payout", quote.AwayPayout,
			)
		}
		snapshot = &model.TimeOdds{
			ID:          uuid.New().String(),
			GameID:      game.ID,
			Time:        now,
			HomeWinProb: quote.HomeWinProb,
			AwayWinProb: quote.AwayWinProb,
			HomePrice:   pricing.Price(quote.HomeWinProb, game.PregameHomeWinProb, game.PregameHomePayout),
			AwayPrice:   pricing.Price(quote.AwayWinProb, game.PregameAwayWinProb, game.PregameAwayPayout),
		}
	} else {
		if err == nil {
			metrics.OddsFetchesTotal.WithLabelValues("empty").Inc()
		}
		last := m.lastSnapshot()
		if last == nil {
			// Nothing to carry forward yet.
			metrics.PollTicksTotal.WithLabelValues("empty").Inc()
			return
		}
		// The book pulled the market (common near game end): carry the
		// last known prices forward so the chart stays continuous.
		snapshot = &model.TimeOdds{
			ID:          uuid.New().String(),
			GameID:      game.ID,
			Time:        now,
			HomeWinProb: last.HomeWinProb,
			AwayWinProb: last.AwayWinProb,
			HomePrice:   last.HomePrice,
			AwayPrice:   last.AwayPrice,
		}
	}

	if err := m.store.AppendTimeOdds(ctx, snapshot); err != nil {
		slog.Error("snapshot write failed", "game", game.ID, "err", err)
		metrics.PollTicksTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.SnapshotsPersisted.Inc()

	history := m.appendHistory(*snapshot)
	m.hub.BroadcastOddsHistory(history)

	if _, err := m.board.Recompute(ctx, game.ID, snapshot.HomePrice, snapshot.AwayPrice); err != nil {
		slog.Error("leaderboard recompute failed", "game", game.ID, "err", err)
	}
	metrics.PollTicksTotal.WithLabelValues("ok").Inc()
}

func (m *Monitor) lastSnapshot() *model.TimeOdds {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return nil
	}
	last := m.history[len(m.history)-1]
	return &last
}

func (m *Monitor) appendHistory(snapshot model.TimeOdds) []model.TimeOdds {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, snapshot)
	out := make([]model.TimeOdds, len(m.history))
	copy(out, m.history)
	return out
}
