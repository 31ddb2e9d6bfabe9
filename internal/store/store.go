// Package store defines the persistence boundary of the engine and its two
// implementations: an in-memory store used by tests and local runs, and a
// PostgreSQL store.
//
// All balance mutations happen inside WithTx. A transaction holds the user's
// row lock from LockUser until it commits or rolls back, so rounds for the
// same player are serialized while rounds for different players run freely.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrSessionExists  = errors.New("active session already exists")
	ErrJackpotChanged = errors.New("jackpot pool changed since evaluation")
	ErrNoFreeSpins    = errors.New("free spin grant exhausted")
	ErrDuplicate      = errors.New("record already exists")
)

// TransactionFilter selects ledger entries, newest first.
// A zero Limit returns every entry.
type TransactionFilter struct {
	UserID string
	Limit  int
	Offset int
}

// Store is the persistence interface consumed by the engine
type Store interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)

	SaveGame(ctx context.Context, game *domain.Game) error
	GetGame(ctx context.Context, id string) (*domain.Game, error)
	ListGames(ctx context.Context) ([]*domain.Game, error)
	SetGameActive(ctx context.Context, id string, active bool) error

	GetActiveSession(ctx context.Context, userID, gameID string) (*domain.PlaySession, error)
	GetSession(ctx context.Context, id string) (*domain.PlaySession, error)
	// CreateSession inserts an active session; ErrSessionExists when the pair already has one
	CreateSession(ctx context.Context, session *domain.PlaySession) error
	// CloseSession moves an active session to closed; false when it was not active
	CloseSession(ctx context.Context, id string, at time.Time) (bool, error)
	CloseStaleSessions(ctx context.Context, lastActivityBefore time.Time) (int64, error)

	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)

	GetJackpot(ctx context.Context, gameID string) (decimal.Decimal, error)

	CreateFreeSpinGrant(ctx context.Context, grant *domain.FreeSpinGrant) error
	ListFreeSpinGrants(ctx context.Context, userID string) ([]domain.FreeSpinGrant, error)
	ExpireFreeSpinGrants(ctx context.Context, now time.Time) (int64, error)

	SaveRound(ctx context.Context, record *domain.RoundRecord) error
	GetRound(ctx context.Context, roundID string) (*domain.RoundRecord, error)

	// WithTx runs fn in one transaction. Nothing fn wrote is visible unless
	// fn returns nil and the commit succeeds.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of writes a settlement performs atomically
type Tx interface {
	// LockUser reads the user and holds its lock until the transaction ends
	LockUser(ctx context.Context, userID string) (*domain.User, error)
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error
	AppendTransaction(ctx context.Context, t *domain.Transaction) error
	RecordSessionRound(ctx context.Context, sessionID string, bet, win decimal.Decimal, at time.Time) error
	ContributeJackpot(ctx context.Context, gameID string, amount decimal.Decimal) error
	// ResetJackpot sets the pool to seed only if it still equals expected
	ResetJackpot(ctx context.Context, gameID string, expected, seed decimal.Decimal) error
	// ConsumeFreeSpin uses one spin of the grant; ErrNoFreeSpins when none remain
	ConsumeFreeSpin(ctx context.Context, grantID, roundID string, at time.Time) error
}
