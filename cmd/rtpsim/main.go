// Command rtpsim estimates the return to player of a catalog slot game by
// playing seeded spins through the production reel generator and evaluator.
//
//	go run ./cmd/rtpsim -game fortune-slots -spins 1000000 -seed 7
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/catalog"
	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/rng"
	"github.com/alexbotov/slotify-rgs/internal/slot"
	"github.com/cheggaaa/pb/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// maxChain caps the free spins replayed from one paid spin
const maxChain = 10000

type options struct {
	spins       int
	bet         decimal.Decimal
	withJackpot bool
	freeSpins   bool
	progress    io.Writer
}

// report summarises a simulation. Returns are per paid spin and include the
// free spins that spin triggered.
type report struct {
	GameID       string
	Spins        int
	Bet          decimal.Decimal
	TotalBet     decimal.Decimal
	TotalWin     decimal.Decimal
	RTP          float64
	StdDev       float64
	CILow        float64
	CIHigh       float64
	HitRate      float64
	HitLow       float64
	HitHigh      float64
	Jackpots     int
	FreeSpins    int
	MaxMultiple  float64
	Theoretical  float64
	Elapsed      time.Duration
	ChainsCapped int
}

func simulate(g *domain.Game, src rng.Source, opts options) (*report, error) {
	if g.Type != domain.GameTypeSlot || g.Slot == nil {
		return nil, fmt.Errorf("game %s is not a slot", g.ID)
	}
	if opts.spins <= 0 {
		return nil, fmt.Errorf("spins must be positive, got %d", opts.spins)
	}
	bet := opts.bet
	if !bet.IsPositive() {
		bet = g.MinBet
	}

	cfg := *g.Slot
	if cfg.Jackpot != nil {
		jp := *cfg.Jackpot
		jp.Current = decimal.Zero
		if opts.withJackpot {
			jp.Current = jp.Seed
		}
		cfg.Jackpot = &jp
	}
	lines := make([]int, len(cfg.Paylines))
	for i := range lines {
		lines[i] = i
	}

	gen := slot.NewReelGenerator(src)
	spin := func() (*slot.Evaluation, error) {
		grid, err := gen.Spin(&cfg)
		if err != nil {
			return nil, err
		}
		return slot.Evaluate(&cfg, grid, bet, lines)
	}

	progress := opts.progress
	if progress == nil {
		progress = io.Discard
	}
	bar := pb.New(opts.spins)
	bar.SetWriter(progress)
	bar.Start()
	defer bar.Finish()

	rep := &report{
		GameID:      g.ID,
		Spins:       opts.spins,
		Bet:         bet,
		TotalBet:    bet.Mul(decimal.NewFromInt(int64(opts.spins))),
		TotalWin:    decimal.Zero,
		Theoretical: cfg.RTP,
	}
	returns := make([]float64, opts.spins)
	hits := 0
	start := time.Now()

	for i := 0; i < opts.spins; i++ {
		ev, err := spin()
		if err != nil {
			return nil, fmt.Errorf("spin %d: %w", i, err)
		}
		win := ev.Total
		if ev.IsJackpot {
			rep.Jackpots++
		}

		pending := 0
		if opts.freeSpins {
			pending = ev.FreeSpins
		}
		played := 0
		for pending > 0 {
			if played == maxChain {
				rep.ChainsCapped++
				break
			}
			fs, err := spin()
			if err != nil {
				return nil, fmt.Errorf("free spin of spin %d: %w", i, err)
			}
			pending--
			played++
			pending += fs.FreeSpins
			win = win.Add(fs.Total)
			if fs.IsJackpot {
				rep.Jackpots++
			}
		}
		rep.FreeSpins += played

		if win.IsPositive() {
			hits++
		}
		rep.TotalWin = rep.TotalWin.Add(win)
		returns[i] = win.Div(bet).InexactFloat64()
		if returns[i] > rep.MaxMultiple {
			rep.MaxMultiple = returns[i]
		}
		bar.Increment()
	}
	rep.Elapsed = time.Since(start)

	mean, std := stat.MeanStdDev(returns, nil)
	rep.RTP = mean
	rep.StdDev = std
	half := distuv.UnitNormal.Quantile(0.975) * std / math.Sqrt(float64(opts.spins))
	rep.CILow, rep.CIHigh = mean-half, mean+half

	rep.HitRate = float64(hits) / float64(opts.spins)
	rep.HitLow, rep.HitHigh = clopperPearson(hits, opts.spins, 0.05)
	return rep, nil
}

// clopperPearson returns the exact binomial confidence interval of k hits in n trials
func clopperPearson(k, n int, alpha float64) (float64, float64) {
	lo, hi := 0.0, 1.0
	if k > 0 {
		b := distuv.Beta{Alpha: float64(k), Beta: float64(n - k + 1)}
		lo = b.Quantile(alpha / 2)
	}
	if k < n {
		b := distuv.Beta{Alpha: float64(k + 1), Beta: float64(n - k)}
		hi = b.Quantile(1 - alpha/2)
	}
	return lo, hi
}

func (r *report) print(w io.Writer) {
	fmt.Fprintf(w, "game            %s\n", r.GameID)
	fmt.Fprintf(w, "spins           %d at %s\n", r.Spins, r.Bet.StringFixed(domain.MoneyScale))
	fmt.Fprintf(w, "wagered         %s\n", r.TotalBet.StringFixed(domain.MoneyScale))
	fmt.Fprintf(w, "won             %s\n", r.TotalWin.StringFixed(domain.MoneyScale))
	fmt.Fprintf(w, "rtp             %.4f%%  (95%% CI %.4f%% .. %.4f%%)\n", r.RTP*100, r.CILow*100, r.CIHigh*100)
	if r.Theoretical > 0 {
		fmt.Fprintf(w, "declared rtp    %.4f%%\n", r.Theoretical*100)
	}
	fmt.Fprintf(w, "std dev         %.4f x bet\n", r.StdDev)
	fmt.Fprintf(w, "hit rate        %.4f%%  (95%% CI %.4f%% .. %.4f%%)\n", r.HitRate*100, r.HitLow*100, r.HitHigh*100)
	fmt.Fprintf(w, "max win         %.2f x bet\n", r.MaxMultiple)
	fmt.Fprintf(w, "jackpots        %d\n", r.Jackpots)
	fmt.Fprintf(w, "free spins      %d\n", r.FreeSpins)
	if r.ChainsCapped > 0 {
		fmt.Fprintf(w, "capped chains   %d\n", r.ChainsCapped)
	}
	fmt.Fprintf(w, "elapsed         %s\n", r.Elapsed.Round(time.Millisecond))
}

func main() {
	catalogPath := flag.String("catalog", "configs/games.yaml", "game catalog file")
	gameID := flag.String("game", "fortune-slots", "slot game id")
	spins := flag.Int("spins", 1_000_000, "paid spins to simulate")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "replay seed")
	betFlag := flag.String("bet", "", "total bet per spin, defaults to the game minimum")
	withJackpot := flag.Bool("jackpot", true, "pay the jackpot seed on a jackpot hit")
	freeSpins := flag.Bool("free-spins", true, "replay awarded free spins")
	quiet := flag.Bool("quiet", false, "hide the progress bar")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var bet decimal.Decimal
	if *betFlag != "" {
		var err error
		if bet, err = decimal.NewFromString(*betFlag); err != nil {
			logger.Fatal().Err(err).Str("bet", *betFlag).Msg("Invalid bet")
		}
	}

	games, err := catalog.Load(*catalogPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load catalog")
	}
	var game *domain.Game
	for _, g := range games {
		if g.ID == *gameID {
			game = g
		}
	}
	if game == nil {
		logger.Fatal().Str("game", *gameID).Msg("Game not in catalog")
	}

	opts := options{
		spins:       *spins,
		bet:         bet,
		withJackpot: *withJackpot,
		freeSpins:   *freeSpins,
		progress:    os.Stderr,
	}
	if *quiet {
		opts.progress = io.Discard
	}

	logger.Info().Str("game", game.ID).Int("spins", *spins).Uint64("seed", *seed).Msg("Simulating")
	rep, err := simulate(game, rng.NewReplay(*seed), opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("Simulation failed")
	}
	rep.print(os.Stdout)
}
