package scores

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sweatstake/game-engine/internal/model"
)

// sportPaths maps an odds-provider sport key to ESPN's (sport, league) URL
// segments.
var sportPaths = map[string]string{
	"americanfootball_nfl":   "football/nfl",
	"americanfootball_ncaaf": "football/college-football",
	"basketball_nba":         "basketball/nba",
	"basketball_ncaab":       "basketball/mens-college-basketball",
	"baseball_mlb":           "baseball/mlb",
	"icehockey_nhl":          "hockey/nhl",
}

// ESPNSource checks completion via ESPN's public scoreboard. ESPN has no
// shared id scheme with the odds provider, so it fetches the full day's
// schedule in the mapped league and correlates by two signals: event start
// time within the match window of the internal commence time, and fuzzy
// overlap of the normalized "away at home" matchup name at or above the
// match threshold.
type ESPNSource struct {
	baseURL    string
	httpClient *http.Client
	threshold  float64
	window     time.Duration
}

// NewESPNSource creates the source. threshold is the minimum normalized
// name-overlap ratio (0.80 by default calibration); window bounds the start
// time difference (1h by default).
func NewESPNSource(baseURL string, timeout time.Duration, threshold float64, window time.Duration) *ESPNSource {
	return &ESPNSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		threshold:  threshold,
		window:     window,
	}
}

func (s *ESPNSource) Name() string { return "espn" }

type scoreboard struct {
	Events []espnEvent `json:"events"`
}

type espnEvent struct {
	Date   string `json:"date"`
	Name   string `json:"name"`
	Status struct {
		Type struct {
			Completed bool `json:"completed"`
		} `json:"type"`
	} `json:"status"`
	Competitions []struct {
		Competitors []struct {
			HomeAway string `json:"homeAway"`
			Score    string `json:"score"`
		} `json:"competitors"`
	} `json:"competitions"`
}

func (s *ESPNSource) Check(ctx context.Context, game *model.Game) (*CompletionResult, error) {
	sportPath, ok := sportPaths[game.SportKey]
	if !ok {
		return nil, nil // sport not covered by this provider
	}

	url := fmt.Sprintf("%s/%s/scoreboard?dates=%s",
		s.baseURL, sportPath, game.CommenceTime.UTC().Format("20060102"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("espn scoreboard: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("espn scoreboard: status=%d body=%s", resp.StatusCode, string(body))
	}

	var board scoreboard
	if err := json.NewDecoder(resp.Body).Decode(&board); err != nil {
		return nil, fmt.Errorf("decoding espn scoreboard: %w", err)
	}

	matchup := fmt.Sprintf("%s at %s", game.AwayTeam, game.HomeTeam)

	for _, event := range board.Events {
		start, err := parseESPNTime(event.Date)
		if err != nil {
			continue
		}
		if absDuration(start.Sub(game.CommenceTime)) > s.window {
			continue
		}
		if !MatchupsMatch(matchup, event.Name, s.threshold) {
			continue
		}
		return eventResult(event), nil
	}
	return nil, nil
}

func eventResult(event espnEvent) *CompletionResult {
	result := &CompletionResult{Completed: event.Status.Type.Completed}
	if !result.Completed || len(event.Competitions) == 0 {
		return result
	}

	for _, comp := range event.Competitions[0].Competitors {
		score, err := strconv.Atoi(comp.Score)
		if err != nil {
			continue
		}
		switch comp.HomeAway {
		case "home":
			result.HomeScore = score
		case "away":
			result.AwayScore = score
		}
	}
	return result
}

// parseESPNTime handles ESPN's minute-precision timestamps ("2006-01-02T15:04Z")
// as well as full RFC3339.
func parseESPNTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04Z07:00", s)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
