package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/lock"
	"github.com/shopspring/decimal"
)

// Operation names accepted by Memory.FailNext
const (
	OpLockUser           = "lock_user"
	OpSetBalance         = "set_balance"
	OpAppendTransaction  = "append_transaction"
	OpRecordSessionRound = "record_session_round"
	OpContributeJackpot  = "contribute_jackpot"
	OpResetJackpot       = "reset_jackpot"
	OpConsumeFreeSpin    = "consume_free_spin"
	OpCommit             = "commit"
	OpCreateSession      = "create_session"
	OpSaveRound          = "save_round"
)

var _ Store = (*Memory)(nil)

type pairKey struct{ userID, gameID string }

type grantUse struct {
	grantID string
	roundID string
	usedAt  time.Time
}

// Memory is an in-process Store. Transactions stage their writes and apply
// them under one mutex at commit after every staged check passes, so a
// failed transaction leaves no trace. Per-user locks give the same
// serialization as row locks in PostgreSQL.
type Memory struct {
	mu           sync.RWMutex
	users        map[string]*domain.User
	games        map[string]*domain.Game
	jackpots     map[string]decimal.Decimal
	sessions     map[string]*domain.PlaySession
	active       map[pairKey]string
	transactions []domain.Transaction
	grants       map[string]*domain.FreeSpinGrant
	grantUses    []grantUse
	rounds       map[string]*domain.RoundRecord

	locks *lock.UserLock

	faultMu sync.Mutex
	faults  map[string]error
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*domain.User),
		games:    make(map[string]*domain.Game),
		jackpots: make(map[string]decimal.Decimal),
		sessions: make(map[string]*domain.PlaySession),
		active:   make(map[pairKey]string),
		grants:   make(map[string]*domain.FreeSpinGrant),
		rounds:   make(map[string]*domain.RoundRecord),
		locks:    lock.NewUserLock(),
		faults:   make(map[string]error),
	}
}

// FailNext makes the next call of op return err
func (m *Memory) FailNext(op string, err error) {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	m.faults[op] = err
}

func (m *Memory) fault(op string) error {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	err, ok := m.faults[op]
	if !ok {
		return nil
	}
	delete(m.faults, op)
	return err
}

// FreeSpinUses returns the number of spins consumed from a grant
func (m *Memory) FreeSpinUses(grantID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, u := range m.grantUses {
		if u.grantID == grantID {
			n++
		}
	}
	return n
}

func (m *Memory) CreateUser(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	u := *user
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	m.users[u.ID] = &u
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func cloneGame(g *domain.Game) *domain.Game {
	c := *g
	if g.Slot != nil {
		slot := *g.Slot
		if g.Slot.Jackpot != nil {
			jp := *g.Slot.Jackpot
			slot.Jackpot = &jp
		}
		c.Slot = &slot
	}
	if g.Roulette != nil {
		r := *g.Roulette
		c.Roulette = &r
	}
	return &c
}

func (m *Memory) SaveGame(ctx context.Context, game *domain.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[game.ID] = cloneGame(game)
	if game.Slot != nil && game.Slot.Jackpot != nil {
		if _, ok := m.jackpots[game.ID]; !ok {
			m.jackpots[game.ID] = game.Slot.Jackpot.Seed
		}
	}
	return nil
}

func (m *Memory) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.withJackpot(cloneGame(g)), nil
}

// withJackpot fills the live pool amount; callers hold mu
func (m *Memory) withJackpot(g *domain.Game) *domain.Game {
	if g.Slot != nil && g.Slot.Jackpot != nil {
		g.Slot.Jackpot.Current = m.jackpots[g.ID]
	}
	return g
}

func (m *Memory) ListGames(ctx context.Context) ([]*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Game, 0, len(m.games))
	for _, g := range m.games {
		out = append(out, m.withJackpot(cloneGame(g)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetGameActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return ErrNotFound
	}
	g.Active = active
	return nil
}

func (m *Memory) GetActiveSession(ctx context.Context, userID, gameID string) (*domain.PlaySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[pairKey{userID, gameID}]
	if !ok {
		return nil, ErrNotFound
	}
	s := *m.sessions[id]
	return &s, nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*domain.PlaySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *Memory) CreateSession(ctx context.Context, session *domain.PlaySession) error {
	if err := m.fault(OpCreateSession); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{session.UserID, session.GameID}
	if _, ok := m.active[key]; ok {
		return ErrSessionExists
	}
	s := *session
	m.sessions[s.ID] = &s
	if s.Status == domain.SessionActive {
		m.active[key] = s.ID
	}
	return nil
}

func (m *Memory) CloseSession(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	return m.closeLocked(s, at), nil
}

func (m *Memory) closeLocked(s *domain.PlaySession, at time.Time) bool {
	if s.Status != domain.SessionActive {
		return false
	}
	s.Status = domain.SessionClosed
	ended := at
	s.EndedAt = &ended
	delete(m.active, pairKey{s.UserID, s.GameID})
	return true
}

func (m *Memory) CloseStaleSessions(ctx context.Context, lastActivityBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, id := range m.active {
		s := m.sessions[id]
		if s.LastActivityAt.Before(lastActivityBefore) && m.closeLocked(s, now) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Transaction
	skipped := 0
	for i := len(m.transactions) - 1; i >= 0; i-- {
		t := m.transactions[i]
		if filter.UserID != "" && t.UserID != filter.UserID {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, t)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) GetJackpot(ctx context.Context, gameID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.jackpots[gameID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return v, nil
}

func (m *Memory) CreateFreeSpinGrant(ctx context.Context, grant *domain.FreeSpinGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[grant.UserID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.grants[grant.ID]; ok {
		return ErrDuplicate
	}
	g := *grant
	m.grants[g.ID] = &g
	return nil
}

func (m *Memory) ListFreeSpinGrants(ctx context.Context, userID string) ([]domain.FreeSpinGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.FreeSpinGrant
	for _, g := range m.grants {
		if g.UserID == userID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) ExpireFreeSpinGrants(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, g := range m.grants {
		if g.Active && g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
			g.Active = false
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveRound(ctx context.Context, record *domain.RoundRecord) error {
	if err := m.fault(OpSaveRound); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[record.RoundID]; ok {
		return ErrDuplicate
	}
	r := *record
	m.rounds[r.RoundID] = &r
	return nil
}

func (m *Memory) GetRound(ctx context.Context, roundID string) (*domain.RoundRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rounds[roundID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// WithTx runs fn against a staging transaction and applies its writes atomically
func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{m: m, balances: make(map[string]decimal.Decimal)}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := m.fault(OpCommit); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range tx.ops {
		if op.check == nil {
			continue
		}
		if err := op.check(m); err != nil {
			return err
		}
	}
	for _, op := range tx.ops {
		op.apply(m)
	}
	return nil
}

type memOp struct {
	check func(m *Memory) error
	apply func(m *Memory)
}

type memTx struct {
	m        *Memory
	locked   []string
	balances map[string]decimal.Decimal
	ops      []memOp
}

func (tx *memTx) release() {
	for i := len(tx.locked) - 1; i >= 0; i-- {
		tx.m.locks.Unlock(tx.locked[i])
	}
	tx.locked = nil
}

func (tx *memTx) holds(userID string) bool {
	for _, id := range tx.locked {
		if id == userID {
			return true
		}
	}
	return false
}

func (tx *memTx) LockUser(ctx context.Context, userID string) (*domain.User, error) {
	if err := tx.m.fault(OpLockUser); err != nil {
		return nil, err
	}
	if !tx.holds(userID) {
		if err := tx.m.locks.Lock(ctx, userID); err != nil {
			return nil, fmt.Errorf("failed to lock user %s: %w", userID, err)
		}
		tx.locked = append(tx.locked, userID)
	}
	u, err := tx.m.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b, ok := tx.balances[userID]; ok {
		u.Balance = b
	}
	return u, nil
}

func (tx *memTx) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	if err := tx.m.fault(OpSetBalance); err != nil {
		return err
	}
	tx.balances[userID] = balance
	tx.ops = append(tx.ops, memOp{
		check: func(m *Memory) error {
			if _, ok := m.users[userID]; !ok {
				return ErrNotFound
			}
			return nil
		},
		apply: func(m *Memory) {
			u := m.users[userID]
			u.Balance = balance
			u.UpdatedAt = time.Now().UTC()
		},
	})
	return nil
}

func (tx *memTx) AppendTransaction(ctx context.Context, t *domain.Transaction) error {
	if err := tx.m.fault(OpAppendTransaction); err != nil {
		return err
	}
	if !t.BalanceBefore.Add(t.Amount).Equal(t.BalanceAfter) {
		return fmt.Errorf("transaction %s: balance_after %s != balance_before %s + amount %s",
			t.ID, t.BalanceAfter, t.BalanceBefore, t.Amount)
	}
	entry := *t
	tx.ops = append(tx.ops, memOp{
		check: func(m *Memory) error {
			if _, ok := m.users[entry.UserID]; !ok {
				return ErrNotFound
			}
			return nil
		},
		apply: func(m *Memory) {
			m.transactions = append(m.transactions, entry)
		},
	})
	return nil
}

func (tx *memTx) RecordSessionRound(ctx context.Context, sessionID string, bet, win decimal.Decimal, at time.Time) error {
	if err := tx.m.fault(OpRecordSessionRound); err != nil {
		return err
	}
	tx.ops = append(tx.ops, memOp{
		check: func(m *Memory) error {
			if _, ok := m.sessions[sessionID]; !ok {
				return ErrNotFound
			}
			return nil
		},
		apply: func(m *Memory) {
			s := m.sessions[sessionID]
			s.TotalSpins++
			s.TotalBet = s.TotalBet.Add(bet)
			s.TotalWin = s.TotalWin.Add(win)
			s.LastActivityAt = at
		},
	})
	return nil
}

func (tx *memTx) ContributeJackpot(ctx context.Context, gameID string, amount decimal.Decimal) error {
	if err := tx.m.fault(OpContributeJackpot); err != nil {
		return err
	}
	tx.ops = append(tx.ops, memOp{
		check: func(m *Memory) error {
			if _, ok := m.jackpots[gameID]; !ok {
				return ErrNotFound
			}
			return nil
		},
		apply: func(m *Memory) {
			m.jackpots[gameID] = m.jackpots[gameID].Add(amount)
		},
	})
	return nil
}

func (tx *memTx) ResetJackpot(ctx context.Context, gameID string, expected, seed decimal.Decimal) error {
	if err := tx.m.fault(OpResetJackpot); err != nil {
		return err
	}
	tx.ops = append(tx.ops, memOp{
		check: func(m *Memory) error {
			cur, ok := m.jackpots[gameID]
			if !ok {
				return ErrNotFound
			}
			if !cur.Equal(expected) {
				return ErrJackpotChanged
			}
			return nil
		},
		apply: func(m *Memory) {
			m.jackpots[gameID] = seed
		},
	})
	return nil
}

func (tx *memTx) ConsumeFreeSpin(ctx context.Context, grantID, roundID string, at time.Time) error {
	if err := tx.m.fault(OpConsumeFreeSpin); err != nil {
		return err
	}
	tx.ops = append(tx.ops, memOp{
		check: func(m *Memory) error {
			g, ok := m.grants[grantID]
			if !ok {
				return ErrNotFound
			}
			if !g.Active || g.Remaining() == 0 {
				return ErrNoFreeSpins
			}
			return nil
		},
		apply: func(m *Memory) {
			g := m.grants[grantID]
			g.Used++
			if g.Remaining() == 0 {
				g.Active = false
			}
			m.grantUses = append(m.grantUses, grantUse{grantID: grantID, roundID: roundID, usedAt: at})
		},
	})
	return nil
}
