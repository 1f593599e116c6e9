// Package model defines the core domain types shared across the game engine.
// All monetary values (payouts, prices, trade amounts, bankrolls) use
// shopspring/decimal — never float64 for money. Win probabilities are
// expressed 0–100 and are not money, so they stay float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position sides.
const (
	SideHome = "home"
	SideAway = "away"
)

// Game is one sporting event being tracked. At most one Game is active at a
// time (enforced by the monitor/activation flow, not the store). The pregame
// fields are captured at the first successful odds fetch and are the
// immutable baseline for all later price derivation. Ended is terminal and
// set exactly once, by settlement.
type Game struct {
	ID           string    `json:"id" db:"id"`
	ExternalID   string    `json:"externalId" db:"external_id"` // odds provider event id
	SportKey     string    `json:"sportKey" db:"sport_key"`
	SportTitle   string    `json:"sportTitle" db:"sport_title"`
	HomeTeam     string    `json:"homeTeam" db:"home_team"`
	AwayTeam     string    `json:"awayTeam" db:"away_team"`
	CommenceTime time.Time `json:"commenceTime" db:"commence_time"`
	Active       bool      `json:"active" db:"active"`
	Ended        bool      `json:"ended" db:"ended"`

	// Pregame baseline. Payouts are decimal odds scaled by 100 — the same
	// scale TimeOdds prices are recorded in.
	PregameHomePayout  decimal.Decimal `json:"pregameHomePayout" db:"pregame_home_payout"`
	PregameAwayPayout  decimal.Decimal `json:"pregameAwayPayout" db:"pregame_away_payout"`
	PregameHomeWinProb float64         `json:"pregameHomeWinProb" db:"pregame_home_win_prob"`
	PregameAwayWinProb float64         `json:"pregameAwayWinProb" db:"pregame_away_win_prob"`
}

// HasPregameBaseline reports whether the pregame odds baseline has been
// captured yet. Prices cannot be derived without it.
func (g *Game) HasPregameBaseline() bool {
	return g.PregameHomeWinProb > 0 && g.PregameAwayWinProb > 0
}

// PregamePayout returns the pregame payout for the given side.
func (g *Game) PregamePayout(side string) decimal.Decimal {
	if side == SideHome {
		return g.PregameHomePayout
	}
	return g.PregameAwayPayout
}

// TimeOdds is one timestamped price/probability snapshot for a Game.
// Append-only; ordered by Time ascending; never mutated after insert.
type TimeOdds struct {
	ID          string          `json:"id" db:"id"`
	GameID      string          `json:"gameId" db:"game_id"`
	Time        time.Time       `json:"time" db:"time"`
	HomeWinProb float64         `json:"homeWinProb" db:"home_win_prob"`
	AwayWinProb float64         `json:"awayWinProb" db:"away_win_prob"`
	HomePrice   decimal.Decimal `json:"homePrice" db:"home_price"`
	AwayPrice   decimal.Decimal `json:"awayPrice" db:"away_price"`
}

// UserGame is a participant's session within one Game. Bankroll is the fixed
// starting stake, set at creation and never mutated; live standings are
// recomputed from it plus the position history.
type UserGame struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"userId" db:"user_id"`
	Username  string          `json:"username" db:"username"`
	GameID    string          `json:"gameId" db:"game_id"`
	Bankroll  decimal.Decimal `json:"bankroll" db:"bankroll"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// UserGamePosition is one trade: a bet that a side wins, entered at a buy
// price/amount, optionally closed at a sell price/amount. The sell fields are
// all nil (open) or all set (closed) — a UserGame has at most one open
// position at a time, enforced at the store layer.
type UserGamePosition struct {
	ID         string           `json:"id" db:"id"`
	UserGameID string           `json:"userGameId" db:"user_game_id"`
	Team       string           `json:"team" db:"team"` // SideHome or SideAway
	BuyAmount  decimal.Decimal  `json:"buyAmount" db:"buy_amount"`
	BuyPrice   decimal.Decimal  `json:"buyPrice" db:"buy_price"`
	BuyTime    time.Time        `json:"buyTime" db:"buy_time"`
	SellAmount *decimal.Decimal `json:"sellAmount,omitempty" db:"sell_amount"`
	SellPrice  *decimal.Decimal `json:"sellPrice,omitempty" db:"sell_price"`
	SellTime   *time.Time       `json:"sellTime,omitempty" db:"sell_time"`
}

// Open reports whether the position has not been sold or settled yet.
func (p *UserGamePosition) Open() bool {
	return p.SellAmount == nil && p.SellPrice == nil
}

// Participant pairs a UserGame with its full position history. Produced by
// the aggregate store read the leaderboard runs once per poll tick.
type Participant struct {
	UserGame  UserGame           `json:"userGame"`
	Positions []UserGamePosition `json:"positions"`
}

// LeaderboardEntry is one ranked standing: a participant's mark-to-market
// bankroll at current prices, rounded to 2 decimals.
type LeaderboardEntry struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	Bankroll decimal.Decimal `json:"bankroll"`
}
