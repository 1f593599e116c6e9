package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sweatstake/game-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// The "at most one open position per user game" invariant is a partial
// unique index so it survives concurrent buys:
//
//	CREATE UNIQUE INDEX user_game_positions_one_open
//	ON user_game_positions (user_game_id) WHERE sell_amount IS NULL;
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const gameColumns = `id, external_id, sport_key, sport_title, home_team, away_team,
	commence_time, active, ended,
	pregame_home_payout::TEXT, pregame_away_payout::TEXT,
	pregame_home_win_prob, pregame_away_win_prob`

func (s *PostgresStore) CreateGame(ctx context.Context, g *model.Game) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO games (id, external_id, sport_key, sport_title, home_team, away_team,
		        commence_time, active, ended,
		        pregame_home_payout, pregame_away_payout,
		        pregame_home_win_prob, pregame_away_win_prob)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11::NUMERIC, $12, $13)`,
		g.ID, g.ExternalID, g.SportKey, g.SportTitle, g.HomeTeam, g.AwayTeam,
		g.CommenceTime, g.Active, g.Ended,
		g.PregameHomePayout.String(), g.PregameAwayPayout.String(),
		g.PregameHomeWinProb, g.PregameAwayWinProb,
	)
	return err
}

func scanGame(row pgx.Row) (*model.Game, error) {
	var g model.Game
	var homePayout, awayPayout string

	err := row.Scan(&g.ID, &g.ExternalID, &g.SportKey, &g.SportTitle,
		&g.HomeTeam, &g.AwayTeam, &g.CommenceTime, &g.Active, &g.Ended,
		&homePayout, &awayPayout,
		&g.PregameHomeWinProb, &g.PregameAwayWinProb)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	g.PregameHomePayout, _ = decimal.NewFromString(homePayout)
	g.PregameAwayPayout, _ = decimal.NewFromString(awayPayout)
	return &g, nil
}

func (s *PostgresStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	g, err := scanGame(s.pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get game %s: %w", id, err)
	}
	return g, err
}

func (s *PostgresStore) GetGameByExternalID(ctx context.Context, externalID string) (*model.Game, error) {
	g, err := scanGame(s.pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE external_id = $1`, externalID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get game by external id %s: %w", externalID, err)
	}
	return g, err
}

func (s *PostgresStore) GetActiveGame(ctx context.Context) (*model.Game, error) {
	return scanGame(s.pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE active = TRUE LIMIT 1`))
}

func (s *PostgresStore) ActivateGame(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE games SET active = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE games SET active = FALSE WHERE id <> $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) DeactivateAllGames(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE games SET active = FALSE WHERE active = TRUE`)
	return err
}

func (s *PostgresStore) SetPregameBaseline(ctx context.Context, gameID string, homePayout, awayPayout decimal.Decimal, homeProb, awayProb float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE games
		 SET pregame_home_payout = $2::NUMERIC, pregame_away_payout = $3::NUMERIC,
		     pregame_home_win_prob = $4, pregame_away_win_prob = $5
		 WHERE id = $1`,
		gameID, homePayout.String(), awayPayout.String(), homeProb, awayProb,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetGameEnded(ctx context.Context, gameID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE games SET ended = TRUE WHERE id = $1`, gameID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendTimeOdds(ctx context.Context, snapshot *model.TimeOdds) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO time_odds (id, game_id, time, home_win_prob, away_win_prob, home_price, away_price)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC)`,
		snapshot.ID, snapshot.GameID, snapshot.Time,
		snapshot.HomeWinProb, snapshot.AwayWinProb,
		snapshot.HomePrice.String(), snapshot.AwayPrice.String(),
	)
	return err
}

func (s *PostgresStore) ListTimeOdds(ctx context.Context, gameID string) ([]model.TimeOdds, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, game_id, time, home_win_prob, away_win_prob,
		        home_price::TEXT, away_price::TEXT
		 FROM time_odds WHERE game_id = $1 ORDER BY time`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []model.TimeOdds
	for rows.Next() {
		var to model.TimeOdds
		var homePrice, awayPrice string
		if err := rows.Scan(&to.ID, &to.GameID, &to.Time,
			&to.HomeWinProb, &to.AwayWinProb, &homePrice, &awayPrice); err != nil {
			return nil, err
		}
		to.HomePrice, _ = decimal.NewFromString(homePrice)
		to.AwayPrice, _ = decimal.NewFromString(awayPrice)
		snapshots = append(snapshots, to)
	}
	return snapshots, rows.Err()
}

func (s *PostgresStore) CreateUserGame(ctx context.Context, ug *model.UserGame) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_games (id, user_id, username, game_id, bankroll, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		ug.ID, ug.UserID, ug.Username, ug.GameID, ug.Bankroll.String(), ug.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateUserGame
	}
	return err
}

func (s *PostgresStore) GetUserGame(ctx context.Context, userID, gameID string) (*model.UserGame, error) {
	var ug model.UserGame
	var bankroll string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, username, game_id, bankroll::TEXT, created_at
		 FROM user_games WHERE user_id = $1 AND game_id = $2`, userID, gameID).
		Scan(&ug.ID, &ug.UserID, &ug.Username, &ug.GameID, &bankroll, &ug.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user game %s/%s: %w", userID, gameID, err)
	}

	ug.Bankroll, _ = decimal.NewFromString(bankroll)
	return &ug, nil
}

func (s *PostgresStore) GetUserGameByID(ctx context.Context, id string) (*model.UserGame, error) {
	var ug model.UserGame
	var bankroll string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, username, game_id, bankroll::TEXT, created_at
		 FROM user_games WHERE id = $1`, id).
		Scan(&ug.ID, &ug.UserID, &ug.Username, &ug.GameID, &bankroll, &ug.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user game %s: %w", id, err)
	}

	ug.Bankroll, _ = decimal.NewFromString(bankroll)
	return &ug, nil
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.UserGamePosition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_game_positions (id, user_game_id, team, buy_amount, buy_price, buy_time)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		p.ID, p.UserGameID, p.Team, p.BuyAmount.String(), p.BuyPrice.String(), p.BuyTime,
	)
	if isUniqueViolation(err) {
		return ErrOpenPositionExists
	}
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.UserGamePosition, error) {
	rows, err := s.pool.Query(ctx,
		positionSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, ErrNotFound
	}
	return &positions[0], nil
}

func (s *PostgresStore) ClosePosition(ctx context.Context, id string, sellAmount, sellPrice decimal.Decimal, sellTime time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_game_positions
		 SET sell_amount = $2::NUMERIC, sell_price = $3::NUMERIC, sell_time = $4
		 WHERE id = $1 AND sell_amount IS NULL AND sell_price IS NULL`,
		id, sellAmount.String(), sellPrice.String(), sellTime,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userGameID string) ([]model.UserGamePosition, error) {
	rows, err := s.pool.Query(ctx,
		positionSelect+` WHERE user_game_id = $1 ORDER BY buy_time`, userGameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListOpenPositionsByGame(ctx context.Context, gameID string) ([]model.UserGamePosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.user_game_id, p.team,
		        p.buy_amount::TEXT, p.buy_price::TEXT, p.buy_time,
		        p.sell_amount::TEXT, p.sell_price::TEXT, p.sell_time
		 FROM user_game_positions p
		 JOIN user_games ug ON ug.id = p.user_game_id
		 WHERE ug.game_id = $1 AND p.sell_amount IS NULL AND p.sell_price IS NULL
		 ORDER BY p.buy_time`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListParticipants batches user games and their positions in one query.
// The leaderboard calls this every poll tick — an N+1 here would multiply
// against the 15s cadence.
func (s *PostgresStore) ListParticipants(ctx context.Context, gameID string) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ug.id, ug.user_id, ug.username, ug.game_id, ug.bankroll::TEXT, ug.created_at,
		        p.id, p.team, p.buy_amount::TEXT, p.buy_price::TEXT, p.buy_time,
		        p.sell_amount::TEXT, p.sell_price::TEXT, p.sell_time
		 FROM user_games ug
		 LEFT JOIN user_game_positions p ON p.user_game_id = ug.id
		 WHERE ug.game_id = $1
		 ORDER BY ug.id, p.buy_time`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []model.Participant
	index := make(map[string]int)

	for rows.Next() {
		var ug model.UserGame
		var bankroll string
		var posID, team, buyAmount, buyPrice *string
		var buyTime, sellTime *time.Time
		var sellAmount, sellPrice *string

		if err := rows.Scan(&ug.ID, &ug.UserID, &ug.Username, &ug.GameID, &bankroll, &ug.CreatedAt,
			&posID, &team, &buyAmount, &buyPrice, &buyTime,
			&sellAmount, &sellPrice, &sellTime); err != nil {
			return nil, err
		}
		ug.Bankroll, _ = decimal.NewFromString(bankroll)

		i, ok := index[ug.ID]
		if !ok {
			participants = append(participants, model.Participant{UserGame: ug})
			i = len(participants) - 1
			index[ug.ID] = i
		}

		if posID == nil {
			continue // participant with no trades yet
		}

		p := model.UserGamePosition{
			ID:         *posID,
			UserGameID: ug.ID,
			Team:       *team,
			BuyTime:    *buyTime,
			SellTime:   sellTime,
		}
		p.BuyAmount, _ = decimal.NewFromString(*buyAmount)
		p.BuyPrice, _ = decimal.NewFromString(*buyPrice)
		p.SellAmount = parseNullableDecimal(sellAmount)
		p.SellPrice = parseNullableDecimal(sellPrice)

		participants[i].Positions = append(participants[i].Positions, p)
	}

	return participants, rows.Err()
}

const positionSelect = `SELECT id, user_game_id, team,
	buy_amount::TEXT, buy_price::TEXT, buy_time,
	sell_amount::TEXT, sell_price::TEXT, sell_time
 FROM user_game_positions`

func scanPositions(rows pgx.Rows) ([]model.UserGamePosition, error) {
	var positions []model.UserGamePosition
	for rows.Next() {
		var p model.UserGamePosition
		var buyAmount, buyPrice string
		var sellAmount, sellPrice *string

		if err := rows.Scan(&p.ID, &p.UserGameID, &p.Team,
			&buyAmount, &buyPrice, &p.BuyTime,
			&sellAmount, &sellPrice, &p.SellTime); err != nil {
			return nil, err
		}

		p.BuyAmount, _ = decimal.NewFromString(buyAmount)
		p.BuyPrice, _ = decimal.NewFromString(buyPrice)
		p.SellAmount = parseNullableDecimal(sellAmount)
		p.SellPrice = parseNullableDecimal(sellPrice)

		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func parseNullableDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
