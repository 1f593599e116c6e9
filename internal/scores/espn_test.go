package scores

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sweatstake/game-engine/internal/model"
)

func espnGame(commence time.Time) *model.Game {
	return &model.Game{
		ID:           "g1",
		SportKey:     "americanfootball_nfl",
		HomeTeam:     "Green Bay Packers",
		AwayTeam:     "Detroit Lions",
		CommenceTime: commence,
	}
}

func TestESPNSource_FuzzyMatchAndScores(t *testing.T) {
	commence := time.Date(2025, 1, 12, 18, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/football/nfl/scoreboard" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("dates"); got != "20250112" {
			t.Errorf("unexpected dates %q", got)
		}
		fmt.Fprintf(w, `{"events": [
			{
				"date": "2025-01-12T21:30Z",
				"name": "Chicago Bears at Minnesota Vikings",
				"status": {"type": {"completed": true}},
				"competitions": [{"competitors": [
					{"homeAway": "home", "score": "10"},
					{"homeAway": "away", "score": "13"}
				]}]
			},
			{
				"date": "2025-01-12T18:05Z",
				"name": "Detroit Lions at Green Bay Packers",
				"status": {"type": {"completed": true}},
				"competitions": [{"competitors": [
					{"homeAway": "home", "score": "27"},
					{"homeAway": "away", "score": "24"}
				]}]
			}
		]}`)
	}))
	defer srv.Close()

	src := NewESPNSource(srv.URL, 5*time.Second, 0.80, time.Hour)
	got, err := src.Check(context.Background(), espnGame(commence))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || !got.Completed {
		t.Fatal("expected completion")
	}
	if got.HomeScore != 27 || got.AwayScore != 24 {
		t.Errorf("scores = %d/%d, want 27/24", got.HomeScore, got.AwayScore)
	}
}

func TestESPNSource_RejectsStartTimeOutsideWindow(t *testing.T) {
	commence := time.Date(2025, 1, 12, 18, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Right name, but a different game four hours later.
		fmt.Fprint(w, `{"events": [{
			"date": "2025-01-12T22:30Z",
			"name": "Detroit Lions at Green Bay Packers",
			"status": {"type": {"completed": true}},
			"competitions": [{"competitors": [
				{"homeAway": "home", "score": "27"},
				{"homeAway": "away", "score": "24"}
			]}]
		}]}`)
	}))
	defer srv.Close()

	src := NewESPNSource(srv.URL, 5*time.Second, 0.80, time.Hour)
	got, err := src.Check(context.Background(), espnGame(commence))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected no match, got %+v", got)
	}
}

func TestESPNSource_UnknownSportKey(t *testing.T) {
	src := NewESPNSource("http://unused", 5*time.Second, 0.80, time.Hour)
	game := espnGame(time.Now())
	game.SportKey = "cricket_odi"

	got, err := src.Check(context.Background(), game)
	if err != nil || got != nil {
		t.Errorf("expected (nil, nil) for unmapped sport, got %v %v", got, err)
	}
}

func TestESPNSource_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewESPNSource(srv.URL, 5*time.Second, 0.80, time.Hour)
	if _, err := src.Check(context.Background(), espnGame(time.Now())); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
