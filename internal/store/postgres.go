package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

var _ Store = (*Postgres)(nil)

// Postgres is the PostgreSQL-backed Store
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a store over an open, migrated database
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// mapError converts driver errors into store errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case pqForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (p *Postgres) CreateUser(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	created := user.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, username, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Username, domain.RoundMoney(user.Balance), created, now)
	return mapError(err)
}

const userColumns = `id, username, balance, created_at, updated_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// gameConfig is the JSONB document kept in games.config
type gameConfig struct {
	Slot     *domain.SlotConfiguration     `json:"slot,omitempty"`
	Roulette *domain.RouletteConfiguration `json:"roulette,omitempty"`
}

func (p *Postgres) SaveGame(ctx context.Context, game *domain.Game) error {
	cfg, err := json.Marshal(gameConfig{Slot: game.Slot, Roulette: game.Roulette})
	if err != nil {
		return fmt.Errorf("failed to encode game config: %w", err)
	}
	now := time.Now().UTC()

	return p.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO games (id, name, type, min_bet, max_bet, active, config, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, type = EXCLUDED.type,
				min_bet = EXCLUDED.min_bet, max_bet = EXCLUDED.max_bet,
				active = EXCLUDED.active, config = EXCLUDED.config,
				updated_at = EXCLUDED.updated_at
		`, game.ID, game.Name, game.Type, game.MinBet, game.MaxBet, game.Active, string(cfg), now)
		if err != nil {
			return mapError(err)
		}

		if game.Slot == nil || game.Slot.Jackpot == nil {
			return nil
		}
		jp := game.Slot.Jackpot
		// an existing pool keeps its amount; only its parameters follow the catalog
		_, err = tx.ExecContext(ctx, `
			INSERT INTO jackpot_pools (game_id, current_amount, seed, contribution_rate, updated_at)
			VALUES ($1, $2, $2, $3, $4)
			ON CONFLICT (game_id) DO UPDATE SET
				seed = EXCLUDED.seed, contribution_rate = EXCLUDED.contribution_rate,
				updated_at = EXCLUDED.updated_at
		`, game.ID, jp.Seed, jp.ContributionRate, now)
		return mapError(err)
	})
}

const gameSelect = `
	SELECT g.id, g.name, g.type, g.min_bet, g.max_bet, g.active, g.config, j.current_amount
	FROM games g LEFT JOIN jackpot_pools j ON j.game_id = g.id`

func scanGame(row rowScanner) (*domain.Game, error) {
	var (
		g       domain.Game
		raw     []byte
		current decimal.NullDecimal
	)
	if err := row.Scan(&g.ID, &g.Name, &g.Type, &g.MinBet, &g.MaxBet, &g.Active, &raw, &current); err != nil {
		return nil, mapError(err)
	}
	var cfg gameConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config of game %s: %w", g.ID, err)
	}
	g.Slot, g.Roulette = cfg.Slot, cfg.Roulette
	if g.Slot != nil && g.Slot.Jackpot != nil && current.Valid {
		g.Slot.Jackpot.Current = current.Decimal
	}
	return &g, nil
}

func (p *Postgres) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	return scanGame(p.db.QueryRowContext(ctx, gameSelect+` WHERE g.id = $1`, id))
}

func (p *Postgres) ListGames(ctx context.Context) ([]*domain.Game, error) {
	rows, err := p.db.QueryContext(ctx, gameSelect+` ORDER BY g.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	var games []*domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (p *Postgres) SetGameActive(ctx context.Context, id string, active bool) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE games SET active = $2, updated_at = $3 WHERE id = $1
	`, id, active, time.Now().UTC())
	return expectRows(res, err, ErrNotFound)
}

// expectRows returns none when the statement touched no rows
func expectRows(res sql.Result, err error, none error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

const sessionColumns = `id, user_id, game_id, status, total_spins, total_bet, total_win,
	started_at, last_activity_at, ended_at`

func scanSession(row rowScanner) (*domain.PlaySession, error) {
	var s domain.PlaySession
	var ended sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.GameID, &s.Status, &s.TotalSpins, &s.TotalBet, &s.TotalWin,
		&s.StartedAt, &s.LastActivityAt, &ended)
	if err != nil {
		return nil, mapError(err)
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}

func (p *Postgres) GetActiveSession(ctx context.Context, userID, gameID string) (*domain.PlaySession, error) {
	return scanSession(p.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM play_sessions
		WHERE user_id = $1 AND game_id = $2 AND status = 'active'
	`, userID, gameID))
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*domain.PlaySession, error) {
	return scanSession(p.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM play_sessions WHERE id = $1
	`, id))
}

func (p *Postgres) CreateSession(ctx context.Context, s *domain.PlaySession) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO play_sessions (id, user_id, game_id, status, total_spins, total_bet, total_win,
			started_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, game_id) WHERE status = 'active' DO NOTHING
	`, s.ID, s.UserID, s.GameID, s.Status, s.TotalSpins, s.TotalBet, s.TotalWin, s.StartedAt, s.LastActivityAt)
	return expectRows(res, err, ErrSessionExists)
}

func (p *Postgres) CloseSession(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE play_sessions SET status = 'closed', ended_at = $2
		WHERE id = $1 AND status = 'active'
	`, id, at)
	if err := expectRows(res, err, ErrNotFound); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return false, err
		}
		if _, err := p.GetSession(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (p *Postgres) CloseStaleSessions(ctx context.Context, lastActivityBefore time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE play_sessions SET status = 'closed', ended_at = $2
		WHERE status = 'active' AND last_activity_at < $1
	`, lastActivityBefore, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	return res.RowsAffected()
}

func (p *Postgres) ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error) {
	limit := sql.NullInt64{Int64: int64(filter.Limit), Valid: filter.Limit > 0}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, type, amount, balance_before, balance_after,
		       status, reference, payload, created_at
		FROM transactions
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`, filter.UserID, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			t         domain.Transaction
			sessionID sql.NullString
			reference sql.NullString
			payload   []byte
		)
		err := rows.Scan(&t.ID, &t.UserID, &sessionID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
			&t.Status, &reference, &payload, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		if sessionID.Valid {
			id := sessionID.String
			t.SessionID = &id
		}
		t.Reference = reference.String
		t.Payload = payload
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) GetJackpot(ctx context.Context, gameID string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		SELECT current_amount FROM jackpot_pools WHERE game_id = $1
	`, gameID).Scan(&amount)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	return amount, nil
}

func (p *Postgres) CreateFreeSpinGrant(ctx context.Context, g *domain.FreeSpinGrant) error {
	created := g.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	var betValue decimal.NullDecimal
	if g.BetValue != nil {
		betValue = decimal.NewNullDecimal(*g.BetValue)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO free_spins (id, user_id, amount, used_amount, source, bet_value,
			game_restriction, expires_at, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, g.ID, g.UserID, g.Amount, g.Used, g.Source, betValue, g.GameRestriction, g.ExpiresAt, g.Active, created)
	return mapError(err)
}

func (p *Postgres) ListFreeSpinGrants(ctx context.Context, userID string) ([]domain.FreeSpinGrant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, amount, used_amount, source, bet_value, game_restriction,
		       expires_at, is_active, created_at
		FROM free_spins WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list free spins: %w", err)
	}
	defer rows.Close()

	var out []domain.FreeSpinGrant
	for rows.Next() {
		var (
			g           domain.FreeSpinGrant
			betValue    decimal.NullDecimal
			restriction sql.NullString
			expires     sql.NullTime
		)
		err := rows.Scan(&g.ID, &g.UserID, &g.Amount, &g.Used, &g.Source, &betValue, &restriction,
			&expires, &g.Active, &g.CreatedAt)
		if err != nil {
			return nil, err
		}
		if betValue.Valid {
			v := betValue.Decimal
			g.BetValue = &v
		}
		if restriction.Valid {
			r := restriction.String
			g.GameRestriction = &r
		}
		if expires.Valid {
			e := expires.Time
			g.ExpiresAt = &e
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *Postgres) ExpireFreeSpinGrants(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE free_spins SET is_active = FALSE
		WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire free spins: %w", err)
	}
	return res.RowsAffected()
}

func (p *Postgres) SaveRound(ctx context.Context, r *domain.RoundRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO game_rounds (id, session_id, user_id, game_id, game_type, bet_amount, win_amount,
			net_result, balance_before, balance_after, outcome, lines_played, bet_per_line,
			is_free_spin, completed_at, completion_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, r.RoundID, r.SessionID, r.UserID, r.GameID, r.GameType, r.BetAmount, r.WinAmount,
		r.NetResult(), r.BalanceBefore, r.BalanceAfter, nullableJSON(r.Outcome), r.LinesPlayed, r.BetPerLine,
		r.IsFreeSpin, r.CompletedAt, r.Hash)
	return mapError(err)
}

func (p *Postgres) GetRound(ctx context.Context, roundID string) (*domain.RoundRecord, error) {
	var (
		r       domain.RoundRecord
		outcome []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, session_id, user_id, game_id, game_type, bet_amount, win_amount,
		       balance_before, balance_after, outcome, lines_played, bet_per_line,
		       is_free_spin, completed_at, completion_hash
		FROM game_rounds WHERE id = $1
	`, roundID).Scan(&r.RoundID, &r.SessionID, &r.UserID, &r.GameID, &r.GameType, &r.BetAmount, &r.WinAmount,
		&r.BalanceBefore, &r.BalanceAfter, &outcome, &r.LinesPlayed, &r.BetPerLine,
		&r.IsFreeSpin, &r.CompletedAt, &r.Hash)
	if err != nil {
		return nil, mapError(err)
	}
	r.Outcome = outcome
	return &r, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// WithTx runs fn in a database transaction, rolling back on any error
func (p *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockUser(ctx context.Context, userID string) (*domain.User, error) {
	return scanUser(t.tx.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE
	`, userID))
}

func (t *pgTx) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE users SET balance = $2, updated_at = $3 WHERE id = $1
	`, userID, balance, time.Now().UTC())
	return expectRows(res, err, ErrNotFound)
}

func (t *pgTx) AppendTransaction(ctx context.Context, e *domain.Transaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, session_id, type, amount, balance_before, balance_after,
			status, reference, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.UserID, e.SessionID, e.Type, e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.Status, e.Reference, nullableJSON(e.Payload), e.CreatedAt)
	return mapError(err)
}

func (t *pgTx) RecordSessionRound(ctx context.Context, sessionID string, bet, win decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE play_sessions
		SET total_spins = total_spins + 1, total_bet = total_bet + $2,
		    total_win = total_win + $3, last_activity_at = $4
		WHERE id = $1
	`, sessionID, bet, win, at)
	return expectRows(res, err, ErrNotFound)
}

func (t *pgTx) ContributeJackpot(ctx context.Context, gameID string, amount decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE jackpot_pools SET current_amount = current_amount + $2, updated_at = $3
		WHERE game_id = $1
	`, gameID, amount, time.Now().UTC())
	return expectRows(res, err, ErrNotFound)
}

func (t *pgTx) ResetJackpot(ctx context.Context, gameID string, expected, seed decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE jackpot_pools SET current_amount = $3, updated_at = $4
		WHERE game_id = $1 AND current_amount = $2
	`, gameID, expected, seed, time.Now().UTC())
	return expectRows(res, err, ErrJackpotChanged)
}

func (t *pgTx) ConsumeFreeSpin(ctx context.Context, grantID, roundID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE free_spins
		SET used_amount = used_amount + 1, is_active = (used_amount + 1 < amount)
		WHERE id = $1 AND is_active AND used_amount < amount
	`, grantID)
	if err := expectRows(res, err, ErrNoFreeSpins); err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO free_spin_transactions (free_spin_id, round_id, used_at) VALUES ($1, $2, $3)
	`, grantID, roundID, at)
	return mapError(err)
}
