package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got}, msgAndArgs...)...)
}

func jackpotGame(id string) *domain.Game {
	return &domain.Game{
		ID:     id,
		Name:   "Test Slot",
		Type:   domain.GameTypeSlot,
		MinBet: d("0.10"),
		MaxBet: d("100"),
		Active: true,
		Slot: &domain.SlotConfiguration{
			Reels:    [][]string{{"A", "J"}, {"A", "J"}, {"A", "J"}},
			Rows:     1,
			Paylines: [][]int{{0, 0, 0}},
			Paytable: map[string]map[int]decimal.Decimal{"A": {3: d("10")}},
			Jackpot: &domain.JackpotRule{
				Symbol:           "J",
				Seed:             d("1000"),
				ContributionRate: d("0.01"),
				Stacking:         domain.JackpotAdditive,
			},
		},
	}
}

func rouletteGame(id string) *domain.Game {
	return &domain.Game{
		ID:       id,
		Name:     "Test Roulette",
		Type:     domain.GameTypeRoulette,
		MinBet:   d("1"),
		MaxBet:   d("500"),
		Active:   true,
		Roulette: &domain.RouletteConfiguration{WheelType: domain.WheelEuropean},
	}
}

func newSession(userID, gameID string) *domain.PlaySession {
	now := time.Now().UTC()
	return &domain.PlaySession{
		ID:             uuid.NewString(),
		UserID:         userID,
		GameID:         gameID,
		Status:         domain.SessionActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
}

// seed creates a user with balance and both test games
func seed(t *testing.T, s Store, userID string, balance string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &domain.User{ID: userID, Username: userID, Balance: d(balance)}))
	require.NoError(t, s.SaveGame(ctx, jackpotGame("slot-1")))
	require.NoError(t, s.SaveGame(ctx, rouletteGame("roulette-1")))
}

// debit runs one bet settlement of amount against the user's balance
func debit(ctx context.Context, s Store, userID, sessionID string, amount decimal.Decimal) error {
	return s.WithTx(ctx, func(tx Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.Balance.LessThan(amount) {
			return domain.InsufficientBalance("balance %s below %s", u.Balance, amount)
		}
		after := u.Balance.Sub(amount)
		err = tx.AppendTransaction(ctx, &domain.Transaction{
			ID:            uuid.NewString(),
			UserID:        userID,
			SessionID:     &sessionID,
			Type:          domain.TxTypeBet,
			Amount:        amount.Neg(),
			BalanceBefore: u.Balance,
			BalanceAfter:  after,
			Status:        domain.TxStatusCompleted,
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, userID, after); err != nil {
			return err
		}
		return tx.RecordSessionRound(ctx, sessionID, amount, decimal.Zero, time.Now().UTC())
	})
}

// testStore runs the behaviour every Store implementation must share.
// fresh returns an empty store for each subtest.
func testStore(t *testing.T, fresh func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("Users", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "50.00")

		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assertDecimal(t, "50", u.Balance)

		err = s.CreateUser(ctx, &domain.User{ID: "u1", Username: "other"})
		assert.True(t, errors.Is(err, ErrDuplicate))

		_, err = s.GetUser(ctx, "nobody")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("GamesCarryLiveJackpot", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "0")

		g, err := s.GetGame(ctx, "slot-1")
		require.NoError(t, err)
		require.NotNil(t, g.Slot.Jackpot)
		assertDecimal(t, "1000", g.Slot.Jackpot.Current)
		assert.Len(t, g.Slot.Reels, 3)

		// re-saving the catalog keeps the accumulated pool
		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			return tx.ContributeJackpot(ctx, "slot-1", d("2.5"))
		}))
		require.NoError(t, s.SaveGame(ctx, jackpotGame("slot-1")))
		pool, err := s.GetJackpot(ctx, "slot-1")
		require.NoError(t, err)
		assertDecimal(t, "1002.5", pool)

		games, err := s.ListGames(ctx)
		require.NoError(t, err)
		require.Len(t, games, 2)
		assert.Equal(t, "roulette-1", games[0].ID)
		assert.Equal(t, domain.WheelEuropean, games[0].Roulette.WheelType)

		require.NoError(t, s.SetGameActive(ctx, "roulette-1", false))
		g, err = s.GetGame(ctx, "roulette-1")
		require.NoError(t, err)
		assert.False(t, g.Active)
		assert.True(t, errors.Is(s.SetGameActive(ctx, "missing", true), ErrNotFound))
	})

	t.Run("OneActiveSessionPerPair", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "0")

		first := newSession("u1", "slot-1")
		require.NoError(t, s.CreateSession(ctx, first))
		err := s.CreateSession(ctx, newSession("u1", "slot-1"))
		assert.True(t, errors.Is(err, ErrSessionExists))

		// another game is a different pair
		require.NoError(t, s.CreateSession(ctx, newSession("u1", "roulette-1")))

		active, err := s.GetActiveSession(ctx, "u1", "slot-1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, active.ID)

		closed, err := s.CloseSession(ctx, first.ID, time.Now().UTC())
		require.NoError(t, err)
		assert.True(t, closed)
		closed, err = s.CloseSession(ctx, first.ID, time.Now().UTC())
		require.NoError(t, err)
		assert.False(t, closed)

		_, err = s.GetActiveSession(ctx, "u1", "slot-1")
		assert.True(t, errors.Is(err, ErrNotFound))
		require.NoError(t, s.CreateSession(ctx, newSession("u1", "slot-1")))

		got, err := s.GetSession(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionClosed, got.Status)
		assert.NotNil(t, got.EndedAt)
	})

	t.Run("ConcurrentSessionCreation", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "0")

		const workers = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.CreateSession(ctx, newSession("u1", "slot-1"))
				if err == nil {
					mu.Lock()
					created++
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, ErrSessionExists), "unexpected error %v", err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, created)
	})

	t.Run("CloseStaleSessions", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "0")

		stale := newSession("u1", "slot-1")
		stale.LastActivityAt = time.Now().UTC().Add(-2 * time.Hour)
		require.NoError(t, s.CreateSession(ctx, stale))
		require.NoError(t, s.CreateSession(ctx, newSession("u1", "roulette-1")))

		n, err := s.CloseStaleSessions(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		_, err = s.GetActiveSession(ctx, "u1", "roulette-1")
		assert.NoError(t, err)
	})

	t.Run("SettlementCommits", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "10.00")
		sess := newSession("u1", "slot-1")
		require.NoError(t, s.CreateSession(ctx, sess))

		require.NoError(t, debit(ctx, s, "u1", sess.ID, d("2.50")))

		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assertDecimal(t, "7.50", u.Balance)

		txs, err := s.ListTransactions(ctx, TransactionFilter{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, domain.TxTypeBet, txs[0].Type)
		assertDecimal(t, "-2.50", txs[0].Amount)
		assertDecimal(t, "7.50", txs[0].BalanceAfter)

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.TotalSpins)
		assertDecimal(t, "2.50", got.TotalBet)
	})

	t.Run("FailedTransactionLeavesNoTrace", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "10.00")
		sess := newSession("u1", "slot-1")
		require.NoError(t, s.CreateSession(ctx, sess))

		boom := errors.New("boom")
		err := s.WithTx(ctx, func(tx Tx) error {
			u, err := tx.LockUser(ctx, "u1")
			if err != nil {
				return err
			}
			if err := tx.SetBalance(ctx, "u1", u.Balance.Sub(d("5"))); err != nil {
				return err
			}
			if err := tx.ContributeJackpot(ctx, "slot-1", d("0.05")); err != nil {
				return err
			}
			return boom
		})
		assert.True(t, errors.Is(err, boom))

		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assertDecimal(t, "10", u.Balance)
		pool, err := s.GetJackpot(ctx, "slot-1")
		require.NoError(t, err)
		assertDecimal(t, "1000", pool)
	})

	t.Run("JackpotResetIsCompareAndSwap", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "10.00")

		// a stale expected amount aborts the whole transaction
		err := s.WithTx(ctx, func(tx Tx) error {
			if err := tx.SetBalance(ctx, "u1", d("1010")); err != nil {
				return err
			}
			return tx.ResetJackpot(ctx, "slot-1", d("999"), d("1000"))
		})
		if err == nil {
			t.Fatal("expected stale reset to fail")
		}
		assert.True(t, errors.Is(err, ErrJackpotChanged))
		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assertDecimal(t, "10", u.Balance)

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			return tx.ContributeJackpot(ctx, "slot-1", d("0.005"))
		}))
		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			if err := tx.ResetJackpot(ctx, "slot-1", d("1000.005"), d("1000")); err != nil {
				return err
			}
			return tx.ContributeJackpot(ctx, "slot-1", d("0.01"))
		}))
		pool, err := s.GetJackpot(ctx, "slot-1")
		require.NoError(t, err)
		assertDecimal(t, "1000.01", pool)
	})

	t.Run("ConcurrentDebitsSerialize", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "100.00")
		sess := newSession("u1", "slot-1")
		require.NoError(t, s.CreateSession(ctx, sess))

		const rounds = 20
		var wg sync.WaitGroup
		for i := 0; i < rounds; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, debit(ctx, s, "u1", sess.ID, d("1.25")))
			}()
		}
		wg.Wait()

		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assertDecimal(t, "75", u.Balance)

		txs, err := s.ListTransactions(ctx, TransactionFilter{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, txs, rounds)
		// newest first, and each entry continues the previous one
		for i := 0; i+1 < len(txs); i++ {
			assert.True(t, txs[i].BalanceBefore.Equal(txs[i+1].BalanceAfter))
		}

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.EqualValues(t, rounds, got.TotalSpins)
	})

	t.Run("ListTransactionsPaging", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "10.00")
		sess := newSession("u1", "slot-1")
		require.NoError(t, s.CreateSession(ctx, sess))
		for i := 0; i < 5; i++ {
			require.NoError(t, debit(ctx, s, "u1", sess.ID, d("1")))
		}

		page, err := s.ListTransactions(ctx, TransactionFilter{UserID: "u1", Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assertDecimal(t, "7", page[0].BalanceBefore)
		assertDecimal(t, "8", page[1].BalanceBefore)

		none, err := s.ListTransactions(ctx, TransactionFilter{UserID: "u2"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("FreeSpinGrants", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "0")

		past := time.Now().UTC().Add(-time.Minute)
		expired := &domain.FreeSpinGrant{
			ID: uuid.NewString(), UserID: "u1", Amount: 5, Source: "promo",
			ExpiresAt: &past, Active: true, CreatedAt: time.Now().UTC().Add(-time.Hour),
		}
		bet := d("0.50")
		game := "slot-1"
		grant := &domain.FreeSpinGrant{
			ID: uuid.NewString(), UserID: "u1", Amount: 2, Source: "scatter",
			BetValue: &bet, GameRestriction: &game, Active: true, CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.CreateFreeSpinGrant(ctx, expired))
		require.NoError(t, s.CreateFreeSpinGrant(ctx, grant))
		assert.Error(t, s.CreateFreeSpinGrant(ctx, &domain.FreeSpinGrant{
			ID: uuid.NewString(), UserID: "nobody", Amount: 1, Source: "promo", Active: true,
		}))

		n, err := s.ExpireFreeSpinGrants(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		for i := 0; i < 2; i++ {
			require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
				return tx.ConsumeFreeSpin(ctx, grant.ID, uuid.NewString(), time.Now().UTC())
			}))
		}
		err = s.WithTx(ctx, func(tx Tx) error {
			return tx.ConsumeFreeSpin(ctx, grant.ID, uuid.NewString(), time.Now().UTC())
		})
		assert.True(t, errors.Is(err, ErrNoFreeSpins))

		grants, err := s.ListFreeSpinGrants(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, grants, 2)
		assert.Equal(t, expired.ID, grants[0].ID)
		assert.False(t, grants[0].Active)
		assert.Equal(t, 2, grants[1].Used)
		assert.False(t, grants[1].Active)
		require.NotNil(t, grants[1].BetValue)
		assertDecimal(t, "0.50", *grants[1].BetValue)
		require.NotNil(t, grants[1].GameRestriction)
		assert.Equal(t, "slot-1", *grants[1].GameRestriction)
	})

	t.Run("Rounds", func(t *testing.T) {
		s := fresh(t)
		seed(t, s, "u1", "10")
		sess := newSession("u1", "slot-1")
		require.NoError(t, s.CreateSession(ctx, sess))

		rec := &domain.RoundRecord{
			RoundID:       uuid.NewString(),
			SessionID:     sess.ID,
			UserID:        "u1",
			GameID:        "slot-1",
			GameType:      domain.GameTypeSlot,
			BetAmount:     d("1"),
			WinAmount:     d("3"),
			BalanceBefore: d("10"),
			BalanceAfter:  d("12"),
			Outcome:       []byte(`{"reel_positions":[1,2,3]}`),
			LinesPlayed:   1,
			BetPerLine:    d("1"),
			CompletedAt:   time.Date(2025, 5, 1, 10, 0, 0, 999999000, time.UTC),
			Hash:          "abc",
		}
		require.NoError(t, s.SaveRound(ctx, rec))
		assert.True(t, errors.Is(s.SaveRound(ctx, rec), ErrDuplicate))

		got, err := s.GetRound(ctx, rec.RoundID)
		require.NoError(t, err)
		assertDecimal(t, "3", got.WinAmount)
		assertDecimal(t, "2", got.NetResult())
		assert.JSONEq(t, string(rec.Outcome), string(got.Outcome))
		assert.Equal(t, "abc", got.Hash)
		// settlement times carry microseconds, which every store keeps exactly
		assert.True(t, rec.CompletedAt.Equal(got.CompletedAt), "stored %s, read %s", rec.CompletedAt, got.CompletedAt)

		_, err = s.GetRound(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}
