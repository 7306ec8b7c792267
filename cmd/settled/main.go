package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"intentchain/config"
	"intentchain/core/events"
	"intentchain/core/types"
	"intentchain/native/amm"
	"intentchain/native/hooks"
	"intentchain/native/intents"
	"intentchain/native/settle"
	"intentchain/native/solver"
	"intentchain/observability"
	"intentchain/observability/logging"
	"intentchain/observability/metrics"
	"intentchain/observability/otel"
	"intentchain/rpc"
	"intentchain/state/bank"
	"intentchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SETTLED_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var logger *slog.Logger
	if strings.TrimSpace(cfg.LogFile) != "" {
		logger = logging.SetupWithRotation(cfg.ServiceName, env, cfg.LogFile)
	} else {
		logger = logging.Setup(cfg.ServiceName, env)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: cfg.ServiceName,
			Environment: env,
			Endpoint:    cfg.OTLPEndpoint,
			Headers:     otel.ParseHeaders(cfg.OTLPHeaders),
			Insecure:    true,
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	store, err := storage.NewIntentStore(db)
	if err != nil {
		panic(fmt.Sprintf("Failed to open intent store: %v", err))
	}

	ledger := bank.NewLedger()
	venue := amm.NewRegistry()
	if err := seedState(cfg, ledger, venue); err != nil {
		logger.Error("Failed to seed state", slog.Any("error", err))
		os.Exit(1)
	}

	bond, err := cfg.Bond()
	if err != nil {
		logger.Error("Invalid bond amount", slog.Any("error", err))
		os.Exit(1)
	}
	solverAddr := deriveSolverAccount()
	if cfg.SolverEnabled && bond.Sign() > 0 {
		// The in-process solver funds its bond like any other balance seed.
		if err := ledger.Mint(solverAddr, amm.HubAsset, bond); err != nil {
			logger.Error("Failed to fund solver bond", slog.Any("error", err))
			os.Exit(1)
		}
	}

	engine := intents.NewEngine(store, ledger, venue, cfg.MaxIntentDurationSecs)

	queue := hooks.NewMemoryQueue(cfg.HookQueueCapacity)
	executor := settle.NewExecutor(engine, ledger, venue, queue, cfg.ToleranceBps)
	verifier := settle.NewVerifier(engine, ledger, executor, bond, settle.BondAccount(), settle.ProtocolAccount())
	verifier.SetToleranceBps(cfg.ToleranceBps)
	verifier.SetHookQueue(queue)

	emitter := &telemetryEmitter{log: logger}
	engine.SetEmitter(emitter)
	verifier.SetEmitter(emitter)
	engine.SetWindowFunc(verifier.CurrentWindow)

	go runWindows(ctx, logger, cfg, engine, verifier, solverAddr)

	server := rpc.NewServer(rpc.Config{
		Intents:       engine,
		Settlement:    verifier,
		Logger:        logger,
		RatePerSecond: cfg.RPCRatePerSecond,
		RateBurst:     cfg.RPCRateBurst,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(cfg.RPCAddress) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// seedState loads the configured pools and balances into the in-memory state.
func seedState(cfg *config.Config, ledger *bank.Ledger, venue *amm.Registry) error {
	for _, seed := range cfg.Pools {
		reserveA, err := config.ParseAmount(seed.ReserveA)
		if err != nil {
			return fmt.Errorf("pool %d: %w", seed.ID, err)
		}
		reserveB, err := config.ParseAmount(seed.ReserveB)
		if err != nil {
			return fmt.Errorf("pool %d: %w", seed.ID, err)
		}
		pool, err := amm.NewXYKPool(amm.PoolID(seed.ID), amm.AssetID(seed.AssetA), amm.AssetID(seed.AssetB), reserveA, reserveB, seed.FeeBps)
		if err != nil {
			return fmt.Errorf("pool %d: %w", seed.ID, err)
		}
		if err := venue.Register(pool); err != nil {
			return fmt.Errorf("pool %d: %w", seed.ID, err)
		}
	}
	for _, seed := range cfg.Balances {
		account, err := config.ParseAccount(seed.Account)
		if err != nil {
			return err
		}
		amount, err := config.ParseAmount(seed.Amount)
		if err != nil {
			return fmt.Errorf("balance for %s: %w", seed.Account, err)
		}
		if err := ledger.Mint(account, amm.AssetID(seed.Asset), amount); err != nil {
			return fmt.Errorf("balance for %s: %w", seed.Account, err)
		}
	}
	return nil
}

// runWindows drives the settlement clock: each tick closes the current
// window, sweeps expired intents, and optionally solves the next batch.
func runWindows(ctx context.Context, logger *slog.Logger, cfg *config.Config, engine *intents.Engine, verifier *settle.Verifier, solverAddr [20]byte) {
	interval := time.Duration(cfg.WindowSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	solve := solver.New(solver.Config{
		MaxTradeRatioBps: cfg.MaxTradeRatioBps,
		ToleranceBps:     cfg.ToleranceBps,
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// CloseWindow owns the expiry sweep (failure hooks included); a
		// second sweep here would clear intents without firing them.
		if err := verifier.CloseWindow(); err != nil {
			logger.Error("window close failed", slog.Any("error", err))
		}

		if !cfg.SolverEnabled {
			continue
		}
		runSolver(logger, engine, verifier, solve, solverAddr)
	}
}

func runSolver(logger *slog.Logger, engine *intents.Engine, verifier *settle.Verifier, solve *solver.Solver, solverAddr [20]byte) {
	problem, err := engine.BuildProblem()
	if err != nil {
		logger.Error("problem build failed", slog.Any("error", err))
		return
	}
	metrics.Settlement().SetOpenIntents(len(problem.Intents))
	if len(problem.Intents) == 0 {
		return
	}

	start := time.Now()
	solution, err := solve.Solve(problem)
	metrics.Settlement().ObserveSolve(time.Since(start).Seconds())
	if err != nil {
		logger.Warn("solver gave up", slog.Any("error", err), slog.Int("intents", len(problem.Intents)))
		return
	}
	if len(solution.Resolved) == 0 {
		return
	}

	if err := verifier.SubmitSolution(solverAddr, solution, solution.Score, problem.Window); err != nil {
		metrics.Settlement().RecordRejection(rejectionReason(err))
		logger.Warn("solution rejected", slog.Any("error", err), slog.Uint64("score", solution.Score))
		return
	}
	logger.Info("solution submitted",
		slog.Uint64("window", problem.Window),
		slog.Uint64("score", solution.Score),
		slog.Int("resolved", len(solution.Resolved)))
}

// rejectionReason buckets submission errors into stable metric labels.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, settle.ErrStaleIntents):
		return "stale_intents"
	case errors.Is(err, settle.ErrInvariantViolated):
		return "invariant"
	case errors.Is(err, settle.ErrPriceLimitViolated):
		return "price_limit"
	case errors.Is(err, settle.ErrScoreMismatch):
		return "score_mismatch"
	case errors.Is(err, settle.ErrNotBetter):
		return "not_better"
	case errors.Is(err, settle.ErrWrongWindow):
		return "wrong_window"
	case errors.Is(err, settle.ErrBondUnfunded):
		return "bond_unfunded"
	default:
		return "other"
	}
}

func deriveSolverAccount() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("intentchain/solver/local"))[12:])
	return addr
}

// telemetryEmitter forwards engine events to the structured log and the
// Prometheus registry.
type telemetryEmitter struct {
	log *slog.Logger
}

func (t *telemetryEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())

	attrs := make([]any, 0, 8)
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	t.log.Info(evt.EventType(), attrs...)

	switch e := evt.(type) {
	case events.SolutionProvisional:
		metrics.Settlement().RecordAcceptance(e.Score)
	case events.BondSlashed:
		metrics.Settlement().RecordSlash()
	case events.WindowFinalized:
		metrics.Settlement().RecordWindowClose(true, false)
		metrics.Settlement().RecordResolved(e.Resolved)
	case events.WindowReverted:
		metrics.Settlement().RecordWindowClose(false, true)
	case events.IntentExpired:
		metrics.Settlement().RecordExpired(1)
	}
}
