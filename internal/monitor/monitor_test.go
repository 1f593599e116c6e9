package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sweatstake/game-engine/internal/config"
	"github.com/sweatstake/game-engine/internal/leaderboard"
	"github.com/sweatstake/game-engine/internal/model"
	"github.com/sweatstake/game-engine/internal/odds"
	"github.com/sweatstake/game-engine/internal/scores"
	"github.com/sweatstake/game-engine/internal/settle"
	"github.com/sweatstake/game-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type stubQuotes struct {
	mu     sync.Mutex
	quotes []*odds.Quote // consumed per call; the last entry repeats
	err    error
	calls  int
}

func (s *stubQuotes) FetchQuote(_ context.Context, _ *model.Game) (*odds.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.quotes) == 0 {
		return nil, nil
	}
	q := s.quotes[0]
	if len(s.quotes) > 1 {
		s.quotes = s.quotes[1:]
	}
	return q, nil
}

func (s *stubQuotes) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubScorer struct {
	mu     sync.Mutex
	result *scores.CompletionResult
}

func (s *stubScorer) Check(_ context.Context, _ *model.Game) *scores.CompletionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *stubScorer) complete(home, away int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = &scores.CompletionResult{Completed: true, HomeScore: home, AwayScore: away}
}

type captureHub struct {
	mu        sync.Mutex
	histories [][]model.TimeOdds
	gameEnds  int
}

func (h *captureHub) BroadcastOddsHistory(history []model.TimeOdds) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.histories = append(h.histories, history)
}

func (h *captureHub) BroadcastLeaderboard(_ []model.LeaderboardEntry) {}

func (h *captureHub) BroadcastGameEnd() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gameEnds++
}

func (h *captureHub) lastHistory() []model.TimeOdds {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.histories) == 0 {
		return nil
	}
	return h.histories[len(h.histories)-1]
}

type fixture struct {
	store   *store.MemoryStore
	quotes  *stubQuotes
	scorer  *stubScorer
	hub     *captureHub
	board   *leaderboard.Aggregator
	monitor *Monitor
}

func newFixture(t *testing.T, quotes *stubQuotes) *fixture {
	t.Helper()
	ms := store.NewMemoryStore()
	hub := &captureHub{}
	board := leaderboard.NewAggregator(ms, hub)
	scorer := &stubScorer{}
	engine := settle.NewEngine(ms, board, hub)
	cfg := config.MonitorConfig{
		CheckInterval:   20 * time.Millisecond,
		PollInterval:    20 * time.Millisecond,
		MaxGameDuration: 4 * time.Hour,
	}
	return &fixture{
		store:   ms,
		quotes:  quotes,
		scorer:  scorer,
		hub:     hub,
		board:   board,
		monitor: New(ms, quotes, scorer, engine, board, hub, cfg),
	}
}

func (f *fixture) seedActiveGame(t *testing.T, commence time.Time) *model.Game {
	t.Helper()
	game := &model.Game{
		ID:           "g1",
		SportKey:     "americanfootball_nfl",
		HomeTeam:     "Green Bay Packers",
		AwayTeam:     "Detroit Lions",
		CommenceTime: commence,
		Active:       true,
	}
	if err := f.store.CreateGame(context.Background(), game); err != nil {
		t.Fatal(err)
	}
	return game
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMonitor_PollsAndSetsBaseline(t *testing.T) {
	quotes := &stubQuotes{quotes: []*odds.Quote{
		{HomePayout: d(166), AwayPayout: d(250), HomeWinProb: 60.24, AwayWinProb: 40},
	}}
	f := newFixture(t, quotes)
	f.seedActiveGame(t, time.Now().Add(-5*time.Minute))

	ctx := context.Background()
	f.monitor.Start(ctx)
	defer f.monitor.Stop()

	waitFor(t, 2*time.Second, func() bool {
		history, _ := f.store.ListTimeOdds(ctx, "g1")
		return len(history) >= 2
	}, "no snapshots persisted")

	// First quote fixes the pregame baseline.
	game, err := f.store.GetGame(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if !game.HasPregameBaseline() {
		t.Fatal("pregame baseline not captured")
	}
	if !game.PregameHomePayout.Equal(d(166)) {
		t.Errorf("home payout = %s, want 166", game.PregameHomePayout)
	}

	// Baseline ratio is 1, so prices equal the pregame payouts.
	history, _ := f.store.ListTimeOdds(ctx, "g1")
	if !history[0].HomePrice.Equal(d(166)) || !history[0].AwayPrice.Equal(d(250)) {
		t.Errorf("first snapshot prices = %s/%s, want 166/250",
			history[0].HomePrice, history[0].AwayPrice)
	}

	// Each tick pushes the full history.
	last := f.hub.lastHistory()
	if len(last) < 2 {
		t.Errorf("broadcast history has %d snapshots, want >= 2", len(last))
	}
}

func TestMonitor_BaselineSetOnlyOnce(t *testing.T) {
	quotes := &stubQuotes{quotes: []*odds.Quote{
		{HomePayout: d(166), AwayPayout: d(250), HomeWinProb: 60, AwayWinProb: 40},
		{HomePayout: d(120), AwayPayout: d(400), HomeWinProb: 83.33, AwayWinProb: 25},
	}}
	f := newFixture(t, quotes)
	f.seedActiveGame(t, time.Now().Add(-5*time.Minute))

	ctx := context.Background()
	f.monitor.Start(ctx)
	defer f.monitor.Stop()

	waitFor(t, 2*time.Second, func() bool {
		history, _ := f.store.ListTimeOdds(ctx, "g1")
		return len(history) >= 3
	}, "no snapshots persisted")

	game, _ := f.store.GetGame(ctx, "g1")
	if !game.PregameHomePayout.Equal(d(166)) {
		t.Errorf("baseline drifted to %s, want the first quote's 166", game.PregameHomePayout)
	}
}

func TestMonitor_NoDataCarriesLastSnapshotForward(t *testing.T) {
	quotes := &stubQuotes{quotes: []*odds.Quote{
		{HomePayout: d(166), AwayPayout: d(250), HomeWinProb: 60, AwayWinProb: 40},
		nil, // market pulled
	}}
	f := newFixture(t, quotes)
	f.seedActiveGame(t, time.Now().Add(-5*time.Minute))

	ctx := context.Background()
	f.monitor.Start(ctx)
	defer f.monitor.Stop()

	waitFor(t, 2*time.Second, func() bool {
		history, _ := f.store.ListTimeOdds(ctx, "g1")
		return len(history) >= 3
	}, "no snapshots persisted")

	history, _ := f.store.ListTimeOdds(ctx, "g1")
	first, last := history[0], history[len(history)-1]
	if !last.HomePrice.Equal(first.HomePrice) || last.HomeWinProb != first.HomeWinProb {
		t.Errorf("carried-forward snapshot diverged: %s/%v vs %s/%v",
			last.HomePrice, last.HomeWinProb, first.HomePrice, first.HomeWinProb)
	}
}

func TestMonitor_GameNotYetStartedIsNotPolled(t *testing.T) {
	quotes := &stubQuotes{}
	f := newFixture(t, quotes)
	f.seedActiveGame(t, time.Now().Add(1*time.Hour))

	f.monitor.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	f.monitor.Stop()

	if n := quotes.callCount(); n != 0 {
		t.Errorf("pregame game was polled %d times", n)
	}
}

func TestMonitor_StaleGameOutsideWindowIsNotPolled(t *testing.T) {
	quotes := &stubQuotes{}
	f := newFixture(t, quotes)
	f.seedActiveGame(t, time.Now().Add(-5*time.Hour))

	f.monitor.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	f.monitor.Stop()

	if n := quotes.callCount(); n != 0 {
		t.Errorf("expired game was polled %d times", n)
	}
}

func TestMonitor_SettlesOnCompletionAndStopsPolling(t *testing.T) {
	quotes := &stubQuotes{quotes: []*odds.Quote{
		{HomePayout: d(166), AwayPayout: d(250), HomeWinProb: 60, AwayWinProb: 40},
	}}
	f := newFixture(t, quotes)
	f.seedActiveGame(t, time.Now().Add(-5*time.Minute))

	ctx := context.Background()
	f.monitor.Start(ctx)
	defer f.monitor.Stop()

	waitFor(t, 2*time.Second, func() bool {
		history, _ := f.store.ListTimeOdds(ctx, "g1")
		return len(history) >= 1
	}, "no snapshots persisted")

	f.scorer.complete(27, 24)

	waitFor(t, 2*time.Second, func() bool {
		game, _ := f.store.GetGame(ctx, "g1")
		return game != nil && game.Ended
	}, "game never settled")

	waitFor(t, 2*time.Second, func() bool {
		f.hub.mu.Lock()
		defer f.hub.mu.Unlock()
		return f.hub.gameEnds == 1
	}, "no game_end broadcast")

	// The poll loop winds down; no new snapshots after the terminal one.
	history, _ := f.store.ListTimeOdds(ctx, "g1")
	n := len(history)
	time.Sleep(100 * time.Millisecond)
	history, _ = f.store.ListTimeOdds(ctx, "g1")
	if len(history) != n {
		t.Errorf("snapshots kept accruing after settlement: %d -> %d", n, len(history))
	}
}

func TestMonitor_DeactivationClearsState(t *testing.T) {
	quotes := &stubQuotes{quotes: []*odds.Quote{
		{HomePayout: d(166), AwayPayout: d(250), HomeWinProb: 60, AwayWinProb: 40},
	}}
	f := newFixture(t, quotes)
	game := f.seedActiveGame(t, time.Now().Add(-5*time.Minute))

	ctx := context.Background()

	// Give the leaderboard something to clear.
	ug := &model.UserGame{ID: "ug1", UserID: "u1", Username: "alice", GameID: game.ID, Bankroll: d(300), CreatedAt: time.Now()}
	if err := f.store.CreateUserGame(ctx, ug); err != nil {
		t.Fatal(err)
	}
	pos := &model.UserGamePosition{ID: "p1", UserGameID: "ug1", Team: model.SideHome, BuyAmount: d(50), BuyPrice: d(166), BuyTime: time.Now()}
	if err := f.store.CreatePosition(ctx, pos); err != nil {
		t.Fatal(err)
	}

	f.monitor.Start(ctx)
	defer f.monitor.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return f.board.Latest() != nil
	}, "standings never computed")

	if err := f.store.DeactivateAllGames(ctx); err != nil {
		t.Fatal(err)
	}
	f.monitor.CheckNow(ctx)

	if f.board.Latest() != nil {
		t.Error("standings not cleared after deactivation")
	}

	calls := quotes.callCount()
	time.Sleep(100 * time.Millisecond)
	if quotes.callCount() != calls {
		t.Error("polling continued after deactivation")
	}
}

func TestMonitor_DoubleStartDoesNotDoublePoll(t *testing.T) {
	quotes := &stubQuotes{quotes: []*odds.Quote{
		{HomePayout: d(166), AwayPayout: d(250), HomeWinProb: 60, AwayWinProb: 40},
	}}
	f := newFixture(t, quotes)
	f.seedActiveGame(t, time.Now().Add(-5*time.Minute))

	ctx := context.Background()
	f.monitor.Start(ctx)
	f.monitor.Start(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return quotes.callCount() >= 2
	}, "no polling after double start")
	f.monitor.Stop()

	// One inner loop, not two: history grows by whole ticks, and a second
	// Stop is a harmless no-op.
	f.monitor.Stop()
}
