// Package odds is the client for The Odds API: live h2h quotes for price
// derivation, event discovery for game activation, and the scores endpoint
// used as the authoritative completion source.
//
// The API is quota metered, so every request passes through a client-side
// rate limiter.
package odds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/sweatstake/game-engine/internal/model"
	"github.com/sweatstake/game-engine/internal/pricing"
)

const marketKey = "h2h"

// Quote is one normalized two-sided price observation: decimal bookmaker
// payouts plus the win probabilities derived from them (0–100).
type Quote struct {
	HomePayout  decimal.Decimal
	AwayPayout  decimal.Decimal
	HomeWinProb float64
	AwayWinProb float64
}

// Event is one upcoming game from the discovery endpoint.
type Event struct {
	ID           string    `json:"id"`
	SportKey     string    `json:"sport_key"`
	SportTitle   string    `json:"sport_title"`
	CommenceTime time.Time `json:"commence_time"`
	HomeTeam     string    `json:"home_team"`
	AwayTeam     string    `json:"away_team"`
}

// ScoreEvent is one game from the scores endpoint.
type ScoreEvent struct {
	ID        string       `json:"id"`
	Completed bool         `json:"completed"`
	HomeTeam  string       `json:"home_team"`
	AwayTeam  string       `json:"away_team"`
	Scores    []ScoreEntry `json:"scores"`
}

// ScoreEntry is one team's score line. The provider reports scores as
// strings.
type ScoreEntry struct {
	Name  string `json:"name"`
	Score string `json:"score"`
}

type oddsEvent struct {
	ID         string      `json:"id"`
	Bookmakers []bookmaker `json:"bookmakers"`
}

type bookmaker struct {
	Key     string   `json:"key"`
	Markets []market `json:"markets"`
}

type market struct {
	Key      string    `json:"key"`
	Outcomes []outcome `json:"outcomes"`
}

type outcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Client calls The Odds API.
type Client struct {
	baseURL      string
	apiKey       string
	bookmakerKey string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

// NewClient creates an Odds API client. bookmakerKey selects the single
// canonical book quotes are read from (e.g. "draftkings"). requestsPerSec
// throttles outbound calls against the API quota.
func NewClient(baseURL, apiKey, bookmakerKey string, timeout time.Duration, requestsPerSec float64) *Client {
	if requestsPerSec <= 0 {
		requestsPerSec = 1
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		bookmakerKey: bookmakerKey,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(requestsPerSec), 1),
	}
}

// FetchQuote fetches the current h2h quote for a game. Returns (nil, nil)
// when no usable data exists — bookmaker missing, market pulled, team names
// not found — which is an expected condition near game end, not an error.
func (c *Client) FetchQuote(ctx context.Context, game *model.Game) (*Quote, error) {
	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("eventIds", externalID(game))
	q.Set("markets", marketKey)
	q.Set("regions", "us")

	var events []oddsEvent
	if err := c.get(ctx, fmt.Sprintf("/sports/%s/odds", game.SportKey), q, &events); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	var outcomes []outcome
	for _, b := range events[0].Bookmakers {
		if b.Key != c.bookmakerKey {
			continue
		}
		for _, m := range b.Markets {
			if m.Key == marketKey {
				outcomes = m.Outcomes
			}
		}
	}

	var homeOdds, awayOdds *float64
	for _, o := range outcomes {
		switch o.Name {
		case game.HomeTeam:
			price := o.Price
			homeOdds = &price
		case game.AwayTeam:
			price := o.Price
			awayOdds = &price
		}
	}
	if homeOdds == nil || awayOdds == nil {
		return nil, nil
	}

	return &Quote{
		HomePayout:  pricing.Payout(*homeOdds),
		AwayPayout:  pricing.Payout(*awayOdds),
		HomeWinProb: pricing.Probability(*homeOdds),
		AwayWinProb: pricing.Probability(*awayOdds),
	}, nil
}

// FetchEvents lists upcoming events for a sport (game activation discovery).
func (c *Client) FetchEvents(ctx context.Context, sportKey string) ([]Event, error) {
	q := url.Values{}
	q.Set("apiKey", c.apiKey)

	var events []Event
	if err := c.get(ctx, fmt.Sprintf("/sports/%s/events", sportKey), q, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// FetchScores queries completion status and final scores for a game.
// daysFrom widens the provider's lookback window; 0 omits the parameter.
func (c *Client) FetchScores(ctx context.Context, sportKey, eventID string, daysFrom int) ([]ScoreEvent, error) {
	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("eventIds", eventID)
	if daysFrom > 0 {
		q.Set("daysFrom", fmt.Sprintf("%d", daysFrom))
	}

	var events []ScoreEvent
	if err := c.get(ctx, fmt.Sprintf("/sports/%s/scores", sportKey), q, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("odds api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("odds api %s: status=%d body=%s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding odds api response: %w", err)
	}
	return nil
}

// externalID returns the provider-side event id. Provider ids carry no
// dashes; stored ids may.
func externalID(game *model.Game) string {
	id := game.ExternalID
	if id == "" {
		id = game.ID
	}
	return strings.ReplaceAll(id, "-", "")
}
