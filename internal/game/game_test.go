package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/audit"
	"github.com/alexbotov/slotify-rgs/internal/control"
	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/freespin"
	"github.com/alexbotov/slotify-rgs/internal/metrics"
	"github.com/alexbotov/slotify-rgs/internal/rng"
	"github.com/alexbotov/slotify-rgs/internal/session"
	"github.com/alexbotov/slotify-rgs/internal/store"
	"github.com/alexbotov/slotify-rgs/internal/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got)
}

// Every reel carries the same strip. A stop at p shows p, p+1 and p+2 on
// the top, middle and bottom rows:
//
//	stop 0: A B C   all three lines pay
//	stop 2: C J S   top line, jackpot on the middle row, three scatters
//	stop 3: J S X   three scatters only
func testSlotGame() *domain.Game {
	strip := []string{"A", "B", "C", "J", "S", "X"}
	return &domain.Game{
		ID:     "fruit",
		Name:   "Fruit",
		Type:   domain.GameTypeSlot,
		MinBet: d("0.30"),
		MaxBet: d("30"),
		Active: true,
		Slot: &domain.SlotConfiguration{
			Reels:    [][]string{strip, strip, strip},
			Rows:     3,
			Symbols:  strip,
			Paylines: [][]int{{1, 1, 1}, {0, 0, 0}, {2, 2, 2}},
			Paytable: map[string]map[int]decimal.Decimal{
				"A": {3: d("10")},
				"B": {3: d("5")},
				"C": {3: d("2")},
			},
			Scatters: []domain.ScatterRule{{
				Symbol:    "S",
				MinCount:  3,
				Payouts:   map[int]decimal.Decimal{3: d("2")},
				FreeSpins: map[int]int{3: 5},
			}},
			Jackpot: &domain.JackpotRule{
				Symbol:           "J",
				Seed:             d("1000"),
				ContributionRate: d("0.01"),
				Stacking:         domain.JackpotAdditive,
			},
		},
	}
}

func testRouletteGame() *domain.Game {
	return &domain.Game{
		ID:     "euro",
		Name:   "European Roulette",
		Type:   domain.GameTypeRoulette,
		MinBet: d("1"),
		MaxBet: d("100"),
		Active: true,
		Roulette: &domain.RouletteConfiguration{
			WheelType: domain.WheelEuropean,
			TableLimits: map[domain.BetType]domain.Limit{
				domain.BetStraight: {Min: d("0.5"), Max: d("10")},
			},
		},
	}
}

type fixture struct {
	svc      *Service
	store    *store.Memory
	audit    *audit.Service
	control  *control.Service
	ledger   *wallet.Ledger
	sessions *session.Manager
	fs       *freespin.Service
	metrics  *metrics.Metrics
}

func newFixture(src rng.Source) (*fixture, error) {
	ctx := context.Background()
	s := store.NewMemory()
	if err := s.SaveGame(ctx, testSlotGame()); err != nil {
		return nil, err
	}
	if err := s.SaveGame(ctx, testRouletteGame()); err != nil {
		return nil, err
	}
	if err := s.CreateUser(ctx, &domain.User{ID: "p1", Username: "p1", Balance: d("100")}); err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	auditSvc, err := audit.New(s, []byte("test-key"), d("50"), logger)
	if err != nil {
		return nil, err
	}
	ctrl := control.New(s, auditSvc)
	if err := ctrl.LoadState(ctx); err != nil {
		return nil, err
	}

	f := &fixture{
		store:    s,
		audit:    auditSvc,
		control:  ctrl,
		ledger:   wallet.NewLedger(s, logger),
		sessions: session.NewManager(s, 30*time.Minute, logger),
		fs:       freespin.New(s, logger),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	f.svc = NewService(Dependencies{
		Store:     s,
		RNG:       src,
		Sessions:  f.sessions,
		Ledger:    f.ledger,
		FreeSpins: f.fs,
		Audit:     auditSvc,
		Control:   ctrl,
		Metrics:   f.metrics,
	}, Options{}, logger)
	return f, nil
}

func setupTestService(t *testing.T, src rng.Source) *fixture {
	t.Helper()
	f, err := newFixture(src)
	require.NoError(t, err)
	return f
}

func (f *fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (f *fixture) jackpot(t *testing.T) decimal.Decimal {
	t.Helper()
	pool, err := f.store.GetJackpot(context.Background(), "fruit")
	require.NoError(t, err)
	return pool
}

func slotBet(amount string, lines ...int) *domain.BetPayload {
	return &domain.BetPayload{BetAmount: d(amount), ActivePaylines: lines}
}

func TestPlaySlotLosingRound(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed(0, 1, 2))

	res, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
	require.NoError(t, err)

	assert.Equal(t, domain.GameTypeSlot, res.GameType)
	assertMoney(t, "3", res.BetAmount)
	assertMoney(t, "0", res.WinAmount)
	assertMoney(t, "97", res.NewBalance)
	assertMoney(t, "97", f.balance(t, "p1"))
	assert.Equal(t, []int{0, 1, 2}, res.Slot.ReelPositions)
	assert.Empty(t, res.Slot.WinningLines)
	assert.False(t, res.LogFailed)
	assert.NotEmpty(t, res.Hash)

	txs, err := f.ledger.Transactions(ctx, "p1", 0, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxTypeBet, txs[0].Type)
	assertMoney(t, "-3", txs[0].Amount)
	assert.Equal(t, res.RoundID, txs[0].Reference)

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sess.TotalSpins)
	assertMoney(t, "3", sess.TotalBet)

	assertMoney(t, "1000.03", f.jackpot(t))

	rec, ok, err := f.audit.VerifyRound(ctx, res.RoundID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, res.Hash, rec.Hash)
	assert.Equal(t, 3, rec.LinesPlayed)
	assertMoney(t, "1", rec.BetPerLine)
	assertMoney(t, "100", rec.BalanceBefore)
	assertMoney(t, "97", rec.BalanceAfter)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoundsTotal.WithLabelValues("fruit", "slot", metrics.ResultLoss)))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Wagered.WithLabelValues("fruit")))
}

func TestPlaySlotWinningRound(t *testing.T) {
	ctx := context.Background()

	t.Run("AllLines", func(t *testing.T) {
		f := setupTestService(t, rng.NewFixed(0, 0, 0))
		res, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
		require.NoError(t, err)

		// A, B and C lines at one unit per line
		assertMoney(t, "17", res.WinAmount)
		assertMoney(t, "114", res.NewBalance)
		assert.Len(t, res.Slot.WinningLines, 3)

		txs, err := f.ledger.Transactions(ctx, "p1", 0, 0)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, domain.TxTypeWin, txs[0].Type)
		assertMoney(t, "14", txs[0].Amount)
		assertMoney(t, "100", txs[0].BalanceBefore)
		assertMoney(t, "114", txs[0].BalanceAfter)
	})

	t.Run("SelectedLine", func(t *testing.T) {
		f := setupTestService(t, rng.NewFixed(0, 0, 0))
		res, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3", 0))
		require.NoError(t, err)

		assertMoney(t, "5", res.WinAmount)
		require.Len(t, res.Slot.WinningLines, 1)
		assert.Equal(t, 0, res.Slot.WinningLines[0].Payline)
		assert.Equal(t, "B", res.Slot.WinningLines[0].Symbol)

		rec, err := f.store.GetRound(ctx, res.RoundID)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.LinesPlayed)
	})

	t.Run("ScatterAwardsFreeSpins", func(t *testing.T) {
		f := setupTestService(t, rng.NewFixed(3, 3, 3))
		res, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
		require.NoError(t, err)

		assertMoney(t, "6", res.WinAmount)
		assert.Equal(t, 5, res.Slot.FreeSpinsAwarded)
		require.Len(t, res.Slot.Scatters, 1)
		assert.Equal(t, 3, res.Slot.Scatters[0].Count)

		// awarded spins are reported, not credited
		n, err := f.fs.Remaining(ctx, "p1", "fruit")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestPlaySlotJackpot(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed(2, 2, 2))

	res, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
	require.NoError(t, err)

	require.True(t, res.Slot.IsJackpot)
	assertMoney(t, "1000", res.Slot.JackpotAmount)
	// C line 2 + scatter 6 + pool 1000
	assertMoney(t, "1008", res.WinAmount)
	assertMoney(t, "1105", res.NewBalance)

	// reset to seed, then this round's contribution
	assertMoney(t, "1000.03", f.jackpot(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.JackpotsWon.WithLabelValues("fruit")))
}

func TestJackpotGrowsAcrossRounds(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed(0, 1, 2, 0, 1, 2, 2, 2, 2))

	for i := 0; i < 2; i++ {
		_, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("10"))
		require.NoError(t, err)
	}
	assertMoney(t, "1000.2", f.jackpot(t))

	// the cached configuration must not pin the pool at its first value
	res, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("10"))
	require.NoError(t, err)
	assertMoney(t, "1000.2", res.Slot.JackpotAmount)
	assertMoney(t, "1000.1", f.jackpot(t))
}

func TestValidationHappensBeforeDraw(t *testing.T) {
	ctx := context.Background()
	// an empty script panics if anything is drawn
	f := setupTestService(t, rng.NewFixed())
	require.NoError(t, f.store.CreateUser(ctx, &domain.User{ID: "poor", Username: "poor", Balance: d("1")}))
	require.NoError(t, f.store.CreateUser(ctx, &domain.User{ID: "rich", Username: "rich", Balance: d("600")}))

	tests := []struct {
		name    string
		gameID  string
		userID  string
		payload *domain.BetPayload
		want    error
	}{
		{"BelowMinimum", "fruit", "p1", slotBet("0.10"), domain.ErrInvalidBet},
		{"AboveMaximum", "fruit", "p1", slotBet("31"), domain.ErrInvalidBet},
		{"ZeroBet", "fruit", "p1", slotBet("0"), domain.ErrInvalidBet},
		{"UnknownPayline", "fruit", "p1", slotBet("3", 7), domain.ErrInvalidBet},
		{"DuplicatePayline", "fruit", "p1", slotBet("3", 1, 1), domain.ErrInvalidBet},
		{"InsufficientBalance", "fruit", "poor", slotBet("3"), domain.ErrInsufficientBalance},
		{"NoFreeSpins", "fruit", "p1", &domain.BetPayload{UseFreeSpins: true}, domain.ErrInsufficientFreeSpins},
		{"UnknownGame", "nope", "p1", slotBet("3"), domain.ErrNotFound},
		{"UnknownUser", "fruit", "ghost", slotBet("3"), domain.ErrNotFound},
		{"MissingPayload", "fruit", "p1", nil, domain.ErrInvalidBet},
		{"NoRouletteBets", "euro", "p1", &domain.BetPayload{}, domain.ErrInvalidBet},
		{"TableLimit", "euro", "p1", &domain.BetPayload{Bets: []domain.RouletteBet{
			{Type: domain.BetStraight, Amount: d("11"), Numbers: []int{7}},
		}}, domain.ErrInvalidBet},
		{"StraightWithoutNumbers", "euro", "p1", &domain.BetPayload{Bets: []domain.RouletteBet{
			{Type: domain.BetStraight, Amount: d("1")},
		}}, domain.ErrInvalidBet},
		{"FreeSpinsOnRoulette", "euro", "p1", &domain.BetPayload{UseFreeSpins: true}, domain.ErrInvalidBet},
		{"RouletteTotalAboveMaximum", "euro", "rich", &domain.BetPayload{Bets: []domain.RouletteBet{
			{Type: domain.BetRed, Amount: d("60")},
			{Type: domain.BetBlack, Amount: d("60")},
		}}, domain.ErrInvalidBet},
		{"RouletteTotalBelowMinimum", "euro", "p1", &domain.BetPayload{Bets: []domain.RouletteBet{
			{Type: domain.BetStraight, Amount: d("0.5"), Numbers: []int{7}},
		}}, domain.ErrInvalidBet},
		{"RouletteBoundsBeforeBalance", "euro", "poor", &domain.BetPayload{Bets: []domain.RouletteBet{
			{Type: domain.BetRed, Amount: d("60")},
			{Type: domain.BetBlack, Amount: d("60")},
		}}, domain.ErrInvalidBet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PlayRound(ctx, tt.gameID, tt.userID, tt.payload)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	txs, err := f.store.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
	_, err = f.store.GetActiveSession(ctx, "p1", "fruit")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assertMoney(t, "100", f.balance(t, "p1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoundErrors.WithLabelValues("fruit", string(domain.KindInsufficientBalance))))
}

func TestGameAvailability(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed(0, 1, 2))

	require.NoError(t, f.control.DisableGame(ctx, "fruit", "maintenance", "ops"))
	_, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
	assert.ErrorIs(t, err, domain.ErrGameUnavailable)
	assert.ErrorIs(t, err, control.ErrGameDisabled)

	require.NoError(t, f.control.EnableGame(ctx, "fruit", "ops"))
	f.control.DisableAllGaming(ctx, "incident", "ops")
	_, err = f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
	assert.ErrorIs(t, err, control.ErrGamingDisabled)

	f.control.EnableAllGaming(ctx, "ops")
	_, err = f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
	require.NoError(t, err)
}

func TestInactiveGameOutsideControl(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed())

	g := testSlotGame()
	g.ID = "retired"
	g.Active = false
	require.NoError(t, f.store.SaveGame(ctx, g))

	_, err := f.svc.PlayRound(ctx, "retired", "p1", slotBet("3"))
	assert.ErrorIs(t, err, domain.ErrGameUnavailable)
}

func TestMissingEngine(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed())
	require.NoError(t, f.store.SaveGame(ctx, &domain.Game{ID: "dice", Type: "dice", MinBet: d("1"), MaxBet: d("2"), Active: true}))

	_, err := f.svc.PlayRound(ctx, "dice", "p1", slotBet("1"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestGameConfigurationCache(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed())

	g, err := f.svc.GetGameConfiguration(ctx, "fruit")
	require.NoError(t, err)
	assertMoney(t, "30", g.MaxBet)

	updated := testSlotGame()
	updated.MaxBet = d("50")
	require.NoError(t, f.store.SaveGame(ctx, updated))

	g, err = f.svc.GetGameConfiguration(ctx, "fruit")
	require.NoError(t, err)
	assertMoney(t, "30", g.MaxBet)

	f.svc.Invalidate("fruit")
	g, err = f.svc.GetGameConfiguration(ctx, "fruit")
	require.NoError(t, err)
	assertMoney(t, "50", g.MaxBet)

	_, err = f.svc.GetGameConfiguration(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFreeSpinRound(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed(0, 0, 0))

	value := d("1.5")
	gameID := "fruit"
	grant, err := f.fs.Grant(ctx, freespin.GrantRequest{UserID: "p1", Amount: 2, Source: "promo", BetValue: &value, GameID: &gameID})
	require.NoError(t, err)

	res, err := f.svc.PlayRound(ctx, "fruit", "p1", &domain.BetPayload{UseFreeSpins: true})
	require.NoError(t, err)

	assertMoney(t, "0", res.BetAmount)
	// 17 units of line pay at half a unit per line
	assertMoney(t, "8.5", res.WinAmount)
	assertMoney(t, "108.5", res.NewBalance)
	require.NotNil(t, res.Slot.FreeSpin)
	assert.Equal(t, grant.ID, res.Slot.FreeSpin.GrantID)
	assert.Equal(t, 1, res.Slot.FreeSpin.Remaining)
	assertMoney(t, "1.5", res.Slot.FreeSpin.BetValue)

	n, err := f.fs.Remaining(ctx, "p1", "fruit")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.store.FreeSpinUses(grant.ID))

	// no stake, no contribution
	assertMoney(t, "1000", f.jackpot(t))

	txs, err := f.ledger.Transactions(ctx, "p1", 0, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxTypeWin, txs[0].Type)
	assertMoney(t, "8.5", txs[0].Amount)

	rec, err := f.store.GetRound(ctx, res.RoundID)
	require.NoError(t, err)
	assert.True(t, rec.IsFreeSpin)
	assertMoney(t, "0.5", rec.BetPerLine)
}

func TestLosingFreeSpinWritesNoEntry(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed(0, 1, 2))

	_, err := f.fs.Grant(ctx, freespin.GrantRequest{UserID: "p1", Amount: 1, Source: "promo"})
	require.NoError(t, err)

	res, err := f.svc.PlayRound(ctx, "fruit", "p1", &domain.BetPayload{UseFreeSpins: true})
	require.NoError(t, err)
	assertMoney(t, "0", res.WinAmount)
	assertMoney(t, "100", res.NewBalance)
	assert.Equal(t, 0, res.Slot.FreeSpin.Remaining)

	txs, err := f.ledger.Transactions(ctx, "p1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, err = f.svc.PlayRound(ctx, "fruit", "p1", &domain.BetPayload{UseFreeSpins: true})
	assert.ErrorIs(t, err, domain.ErrInsufficientFreeSpins)
}

func TestSettlementFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()

	for _, op := range []string{store.OpAppendTransaction, store.OpSetBalance, store.OpRecordSessionRound, store.OpContributeJackpot, store.OpCommit} {
		t.Run(op, func(t *testing.T) {
			f := setupTestService(t, rng.NewFixed(0, 0, 0))
			f.store.FailNext(op, assert.AnError)

			_, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
			require.ErrorIs(t, err, domain.ErrSettlementFailed)

			assertMoney(t, "100", f.balance(t, "p1"))
			assertMoney(t, "1000", f.jackpot(t))
			txs, err := f.store.ListTransactions(ctx, store.TransactionFilter{})
			require.NoError(t, err)
			assert.Empty(t, txs)
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SettlementFailures))
		})
	}
}

func TestRoundLogFailureIsFlagged(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed(0, 0, 0))
	f.store.FailNext(store.OpSaveRound, assert.AnError)

	res, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
	require.NoError(t, err)

	assert.True(t, res.LogFailed)
	assert.NotEmpty(t, res.Hash)
	assertMoney(t, "114", f.balance(t, "p1"))
	_, err = f.store.GetRound(ctx, res.RoundID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoundLogFailures))
}

func TestPlayRoulette(t *testing.T) {
	ctx := context.Background()
	// index 1 of the European wheel is pocket 32
	f := setupTestService(t, rng.NewFixed(1))

	res, err := f.svc.PlayRound(ctx, "euro", "p1", &domain.BetPayload{Bets: []domain.RouletteBet{
		{Type: domain.BetRed, Amount: d("10")},
		{Type: domain.BetStraight, Amount: d("1"), Numbers: []int{32}},
		{Type: domain.BetOdd, Amount: d("5")},
	}})
	require.NoError(t, err)

	assert.Equal(t, domain.GameTypeRoulette, res.GameType)
	require.NotNil(t, res.Roulette)
	assert.Equal(t, 32, res.Roulette.WinningNumber)
	assert.Equal(t, domain.WheelEuropean, res.Roulette.WheelType)
	require.Len(t, res.Roulette.Bets, 3)
	assert.True(t, res.Roulette.Bets[0].Won)
	assert.True(t, res.Roulette.Bets[1].Won)
	assert.False(t, res.Roulette.Bets[2].Won)

	assertMoney(t, "16", res.BetAmount)
	assertMoney(t, "45", res.WinAmount)
	assertMoney(t, "129", res.NewBalance)

	rec, ok, err := f.audit.VerifyRound(ctx, res.RoundID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, rec.LinesPlayed)
}

func TestSessionReuse(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed(0, 1, 2, 0, 1, 2))

	first, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
	require.NoError(t, err)
	second, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	sess, err := f.sessions.Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, sess.TotalSpins)
	assertMoney(t, "6", sess.TotalBet)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.NewFixed(0, 1, 2))

	res, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("3"))
	require.NoError(t, err)

	later := time.Now().UTC().Add(2 * time.Hour)
	f.sessions.SetClock(func() time.Time { return later })
	f.svc.Cleanup(ctx)

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionClosed, sess.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionsClosed))
}

func TestRunJanitorStopsWithContext(t *testing.T) {
	f := setupTestService(t, rng.NewFixed())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.svc.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestConcurrentRoundsConserveBalance(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, rng.New())

	const rounds = 40
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		net = decimal.Zero
	)
	for i := 0; i < rounds; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.PlayRound(ctx, "fruit", "p1", slotBet("1"))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
				return
			}
			mu.Lock()
			net = net.Add(res.WinAmount).Sub(res.BetAmount)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assertMoney(t, d("100").Add(net).String(), f.balance(t, "p1"))
	rec, err := f.ledger.Reconcile(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, rec.Balanced(), "drift %s broken %v", rec.Drift, rec.Broken)
}

func TestBalanceConservationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		seed := rapid.Uint64().Draw(t, "seed")
		f, err := newFixture(rng.NewReplay(seed))
		if err != nil {
			t.Fatal(err)
		}

		expected := d("100")
		n := rapid.IntRange(1, 20).Draw(t, "rounds")
		for i := 0; i < n; i++ {
			var payload *domain.BetPayload
			if rapid.Bool().Draw(t, "roulette") {
				payload = &domain.BetPayload{Bets: []domain.RouletteBet{
					{Type: domain.BetRed, Amount: d("2")},
					{Type: domain.BetStraight, Amount: d("1"), Numbers: []int{rapid.IntRange(0, 36).Draw(t, "number")}},
				}}
				res, err := f.svc.PlayRound(ctx, "euro", "p1", payload)
				if err != nil {
					if domain.KindOf(err) == domain.KindInsufficientBalance {
						continue
					}
					t.Fatalf("roulette round: %v", err)
				}
				expected = expected.Sub(res.BetAmount).Add(res.WinAmount)
				continue
			}
			bet := decimal.NewFromInt(int64(rapid.IntRange(1, 10).Draw(t, "bet")))
			res, err := f.svc.PlayRound(ctx, "fruit", "p1", &domain.BetPayload{BetAmount: bet})
			if err != nil {
				if domain.KindOf(err) == domain.KindInsufficientBalance {
					continue
				}
				t.Fatalf("slot round: %v", err)
			}
			expected = expected.Sub(res.BetAmount).Add(res.WinAmount)
			if !res.NewBalance.Equal(expected) {
				t.Fatalf("balance %s, expected %s", res.NewBalance, expected)
			}
		}

		balance, err := f.ledger.Balance(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		if !balance.Equal(expected) {
			t.Fatalf("balance %s, expected %s", balance, expected)
		}
		rec, err := f.ledger.Reconcile(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		if !rec.Balanced() {
			t.Fatalf("ledger drift %s", rec.Drift)
		}
	})
}
