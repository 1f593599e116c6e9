package scores

import (
	"context"
	"strconv"

	"github.com/sweatstake/game-engine/internal/model"
	"github.com/sweatstake/game-engine/internal/odds"
)

// OddsAPISource checks completion via The Odds API scores endpoint. It is
// the authoritative source: it correlates by the provider's own event id, so
// a match is never ambiguous. The provider drops events out of its default
// window quickly after completion, so a miss on the strict query retries
// with a widened daysFrom lookback.
type OddsAPISource struct {
	client   *odds.Client
	daysFrom int
}

// NewOddsAPISource creates the source. daysFrom is the widened lookback
// window used when the strict query returns no match.
func NewOddsAPISource(client *odds.Client, daysFrom int) *OddsAPISource {
	return &OddsAPISource{client: client, daysFrom: daysFrom}
}

func (s *OddsAPISource) Name() string { return "oddsapi" }

func (s *OddsAPISource) Check(ctx context.Context, game *model.Game) (*CompletionResult, error) {
	eventID := game.ExternalID
	if eventID == "" {
		eventID = game.ID
	}

	events, err := s.client.FetchScores(ctx, game.SportKey, eventID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		events, err = s.client.FetchScores(ctx, game.SportKey, eventID, s.daysFrom)
		if err != nil {
			return nil, err
		}
	}
	if len(events) == 0 {
		return nil, nil
	}

	event := events[0]
	result := &CompletionResult{Completed: event.Completed}
	if !event.Completed {
		return result, nil
	}

	for _, entry := range event.Scores {
		score, err := strconv.Atoi(entry.Score)
		if err != nil {
			return nil, nil // malformed score line, treat as absent
		}
		switch entry.Name {
		case game.HomeTeam:
			result.HomeScore = score
		case game.AwayTeam:
			result.AwayScore = score
		}
	}
	return result, nil
}
