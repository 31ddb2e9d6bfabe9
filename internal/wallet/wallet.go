// Package wallet provides balance and transaction management.
// Every balance change writes exactly one immutable ledger entry in the same
// store transaction, with balance_after == balance_before + amount.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrPlayerNotFound = errors.New("player not found")
)

// JackpotSettlement carries the progressive pool changes of one slot round
type JackpotSettlement struct {
	GameID       string
	Contribution decimal.Decimal
	// Won resets the pool to Seed, provided it still holds Expected
	Won      bool
	Expected decimal.Decimal
	Seed     decimal.Decimal
}

// SettleRequest is the outcome of one round ready to be applied
type SettleRequest struct {
	RoundID   string
	UserID    string
	SessionID string
	// Bet is debited from the balance; zero for free spins
	Bet    decimal.Decimal
	Payout decimal.Decimal
	// FreeSpinGrantID consumes one spin of the grant when set
	FreeSpinGrantID string
	Jackpot         *JackpotSettlement
	Payload         json.RawMessage
}

// Settlement is the committed result of Settle
type Settlement struct {
	TransactionID string
	BalanceBefore decimal.Decimal
	NewBalance    decimal.Decimal
	SettledAt     time.Time
}

// Ledger applies round settlements and account adjustments
type Ledger struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewLedger creates a new ledger
func NewLedger(s store.Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  s,
		logger: logger.With().Str("component", "wallet").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Settle debits the bet and credits the payout atomically:
// newBalance = balance - bet + payout. One entry carrying the net change is
// written per round: a win when the player came out ahead, otherwise a bet.
// A free spin that pays nothing writes no entry.
//
// Insufficient funds or free spins found under the row lock are reported as
// such; every other failure is a settlement_failed error and leaves no trace.
func (l *Ledger) Settle(ctx context.Context, req SettleRequest) (*Settlement, error) {
	if req.Bet.IsNegative() || req.Payout.IsNegative() {
		return nil, domain.SettlementFailed(fmt.Errorf("%w: bet %s payout %s", ErrInvalidAmount, req.Bet, req.Payout))
	}
	bet := domain.RoundMoney(req.Bet)
	payout := domain.RoundMoney(req.Payout)
	// stored timestamps keep microseconds, the round hash must match them
	now := l.now().Truncate(time.Microsecond)

	var result Settlement
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		user, err := tx.LockUser(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}
		if user.Balance.LessThan(bet) {
			return domain.InsufficientBalance("balance %s is below bet %s", user.Balance, bet)
		}

		newBalance := user.Balance.Sub(bet).Add(payout)
		result = Settlement{BalanceBefore: user.Balance, NewBalance: newBalance, SettledAt: now}

		if payout.IsPositive() || bet.IsPositive() {
			entry := &domain.Transaction{
				ID:            uuid.New().String(),
				UserID:        req.UserID,
				Type:          domain.TxTypeBet,
				Amount:        newBalance.Sub(user.Balance),
				BalanceBefore: user.Balance,
				BalanceAfter:  newBalance,
				Status:        domain.TxStatusCompleted,
				Reference:     req.RoundID,
				Payload:       req.Payload,
				CreatedAt:     now,
			}
			if req.SessionID != "" {
				entry.SessionID = &req.SessionID
			}
			if entry.Amount.IsPositive() {
				entry.Type = domain.TxTypeWin
			}
			if err := tx.AppendTransaction(ctx, entry); err != nil {
				return fmt.Errorf("failed to append transaction: %w", err)
			}
			result.TransactionID = entry.ID
		}

		if err := tx.SetBalance(ctx, req.UserID, newBalance); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		if req.SessionID != "" {
			if err := tx.RecordSessionRound(ctx, req.SessionID, bet, payout, now); err != nil {
				return fmt.Errorf("failed to update session: %w", err)
			}
		}

		if jp := req.Jackpot; jp != nil {
			if jp.Won {
				if err := tx.ResetJackpot(ctx, jp.GameID, jp.Expected, jp.Seed); err != nil {
					return fmt.Errorf("failed to reset jackpot: %w", err)
				}
			}
			if jp.Contribution.IsPositive() {
				if err := tx.ContributeJackpot(ctx, jp.GameID, jp.Contribution); err != nil {
					return fmt.Errorf("failed to contribute to jackpot: %w", err)
				}
			}
		}

		if req.FreeSpinGrantID != "" {
			if err := tx.ConsumeFreeSpin(ctx, req.FreeSpinGrantID, req.RoundID, now); err != nil {
				return fmt.Errorf("failed to consume free spin: %w", err)
			}
		}
		return nil
	})
	// a concurrent round may take the grant's last spin first
	if errors.Is(err, store.ErrNoFreeSpins) {
		err = &domain.Error{Kind: domain.KindInsufficientFreeSpins, Message: "grant " + req.FreeSpinGrantID + " has no spins left", Err: err}
	}
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindInsufficientBalance, domain.KindInsufficientFreeSpins:
			return nil, err
		}
		l.logger.Error().Err(err).
			Str("round_id", req.RoundID).
			Str("user_id", req.UserID).
			Msg("Settlement failed")
		return nil, domain.SettlementFailed(err)
	}

	l.logger.Debug().
		Str("round_id", req.RoundID).
		Str("user_id", req.UserID).
		Str("bet", bet.StringFixed(domain.MoneyScale)).
		Str("payout", payout.StringFixed(domain.MoneyScale)).
		Str("balance", result.NewBalance.StringFixed(domain.MoneyScale)).
		Msg("Round settled")
	return &result, nil
}

// Balance returns the player's current balance
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	u, err := l.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, ErrPlayerNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return u.Balance, nil
}

// Deposit adds funds to a player's account
func (l *Ledger) Deposit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return l.adjust(ctx, userID, domain.TxTypeDeposit, domain.RoundMoney(amount), reference)
}

// Withdraw removes funds from a player's account
func (l *Ledger) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return l.adjust(ctx, userID, domain.TxTypeWithdrawal, domain.RoundMoney(amount).Neg(), reference)
}

func (l *Ledger) adjust(ctx context.Context, userID string, txType domain.TransactionType, delta decimal.Decimal, reference string) (*domain.Transaction, error) {
	var entry *domain.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPlayerNotFound
		}
		if err != nil {
			return err
		}
		after := user.Balance.Add(delta)
		if after.IsNegative() {
			return domain.InsufficientBalance("balance %s cannot cover %s", user.Balance, delta.Neg())
		}
		entry = &domain.Transaction{
			ID:            uuid.New().String(),
			UserID:        userID,
			Type:          txType,
			Amount:        delta,
			BalanceBefore: user.Balance,
			BalanceAfter:  after,
			Status:        domain.TxStatusCompleted,
			Reference:     reference,
			CreatedAt:     l.now(),
		}
		if err := tx.AppendTransaction(ctx, entry); err != nil {
			return err
		}
		return tx.SetBalance(ctx, userID, after)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("transaction_id", entry.ID).
		Str("user_id", userID).
		Str("type", string(txType)).
		Str("amount", delta.StringFixed(domain.MoneyScale)).
		Msg("Balance adjusted")
	return entry, nil
}

// Transactions returns the player's ledger, newest first
func (l *Ledger) Transactions(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, error) {
	txs, err := l.store.ListTransactions(ctx, store.TransactionFilter{UserID: userID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// Reconciliation compares a player's balance against their ledger
type Reconciliation struct {
	UserID         string          `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	LedgerSum      decimal.Decimal `json:"ledger_sum"`
	Drift          decimal.Decimal `json:"drift"`
	Entries        int             `json:"entries"`
	// Broken lists entries whose amount disagrees with their snapshots or
	// whose balance_before does not continue the previous entry
	Broken []string `json:"broken,omitempty"`
}

// Balanced reports whether the ledger fully explains the balance
func (r *Reconciliation) Balanced() bool {
	return r.Drift.IsZero() && len(r.Broken) == 0
}

// Reconcile replays the player's ledger from the oldest entry and reports any drift
func (l *Ledger) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := l.Transactions(ctx, userID, 0, 0)
	if err != nil {
		return nil, err
	}

	r := &Reconciliation{UserID: userID, Balance: balance, Entries: len(txs)}
	if len(txs) == 0 {
		r.OpeningBalance = balance
		return r, nil
	}

	// txs is newest first
	r.OpeningBalance = txs[len(txs)-1].BalanceBefore
	running := r.OpeningBalance
	for i := len(txs) - 1; i >= 0; i-- {
		t := txs[i]
		if !t.BalanceBefore.Add(t.Amount).Equal(t.BalanceAfter) || !t.BalanceBefore.Equal(running) {
			r.Broken = append(r.Broken, t.ID)
		}
		r.LedgerSum = r.LedgerSum.Add(t.Amount)
		running = t.BalanceAfter
	}
	r.Drift = balance.Sub(r.OpeningBalance.Add(r.LedgerSum))

	if !r.Balanced() {
		l.logger.Warn().
			Str("user_id", userID).
			Str("drift", r.Drift.String()).
			Int("broken", len(r.Broken)).
			Msg("Ledger does not reconcile with balance")
	}
	return r, nil
}
