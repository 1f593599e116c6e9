// Package scores detects game completion and final scores from external
// providers. Detection is best-effort: every source swallows its own
// failures and returns nil, so a flaky provider can never destabilize the
// polling loop surrounding it.
package scores

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sweatstake/game-engine/internal/model"
)

// CompletionResult is one provider's view of a game's completion status.
type CompletionResult struct {
	Completed bool
	HomeScore int
	AwayScore int
}

// Source is one completion provider. Check returns nil (not an error) when
// the provider has no usable answer; errors are for unexpected failures the
// combinator logs and drops.
type Source interface {
	Name() string
	Check(ctx context.Context, game *model.Game) (*CompletionResult, error)
}

// Combined queries an ordered list of sources and applies precedence:
// sources earlier in the list are more authoritative, so when several
// report completion the earliest wins; a later source's completion is used
// only when no earlier source reported one. Adding a provider is a
// configuration change, not a code change.
type Combined struct {
	sources []Source
}

// NewCombined creates a combinator over the given sources, most
// authoritative first.
func NewCombined(sources ...Source) *Combined {
	return &Combined{sources: sources}
}

// Check queries all sources concurrently. Returns nil when no source had a
// usable answer.
func (c *Combined) Check(ctx context.Context, game *model.Game) *CompletionResult {
	results := make([]*CompletionResult, len(c.sources))

	var wg sync.WaitGroup
	for i, src := range c.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			res, err := src.Check(ctx, game)
			if err != nil {
				slog.Warn("score source failed", "source", src.Name(), "game", game.ID, "err", err)
				return
			}
			results[i] = res
		}(i, src)
	}
	wg.Wait()

	// Most authoritative completed result wins.
	for i, res := range results {
		if res != nil && res.Completed {
			slog.Info("completion detected",
				"source", c.sources[i].Name(),
				"game", game.ID,
				"home_score", res.HomeScore,
				"away_score", res.AwayScore,
			)
			return res
		}
	}
	for _, res := range results {
		if res != nil {
			return res
		}
	}
	return nil
}
