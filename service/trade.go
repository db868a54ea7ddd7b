package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dnldd/breakout/broker"
	"github.com/dnldd/breakout/database"
	"github.com/dnldd/breakout/engine"
	"github.com/dnldd/breakout/fetch"
	"github.com/dnldd/breakout/journal"
	"github.com/dnldd/breakout/market"
	"github.com/dnldd/breakout/notify"
	"github.com/dnldd/breakout/position"
	"github.com/dnldd/breakout/risk"
	"github.com/dnldd/breakout/shared"
	"github.com/dnldd/breakout/structure"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// persistTimeout bounds closed trade persistence calls.
	persistTimeout = time.Second * 10
	// notifyTimeout bounds notification delivery.
	notifyTimeout = time.Second * 10
	// logFileMaxSizeMB is the rotation threshold for the log file.
	logFileMaxSizeMB = 50
	// logFileMaxBackups is the number of rotated log files kept.
	logFileMaxBackups = 5
)

// TradeConfig represents the configuration struct for the trade service.
type TradeConfig struct {
	// Markets represents the traded markets.
	Markets []string
	// ExecTimeframe is the execution timeframe.
	ExecTimeframe shared.Timeframe
	// BiasTimeframe is the higher bias timeframe.
	BiasTimeframe shared.Timeframe
	// RiskPerTrade is the account currency risked per trade.
	RiskPerTrade float64
	// DailyMaxLoss is the daily realized loss budget per market.
	DailyMaxLoss float64
	// MaxConsecutiveLosses is the losing streak length triggering a cooldown.
	MaxConsecutiveLosses int
	// Cooldown is the entry block duration applied on a losing streak.
	Cooldown time.Duration
	// AcceptanceBars is the required consecutive confirming closes.
	AcceptanceBars int
	// TimeStopBars caps the runner hold duration, zero disables it.
	TimeStopBars int
	// DatabaseEndpoint is the rqlite endpoint, empty disables persistence.
	DatabaseEndpoint string
	// DatabaseUser is the database user.
	DatabaseUser string
	// DatabasePass is the database user pass.
	DatabasePass string
	// TelegramBotToken is the telegram bot token, empty disables notifications.
	TelegramBotToken string
	// TelegramChatID is the telegram chat notifications are delivered to.
	TelegramChatID string
	// JournalDir is the directory trade journals are written to.
	JournalDir string
	// LogFile is the log file path, empty logs to stderr only.
	LogFile string
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config has sane inputs.
func (cfg *TradeConfig) Validate() error {
	var errs error

	if len(cfg.Markets) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no markets provided for trade service"))
	}
	if cfg.ExecTimeframe.Seconds() <= 0 {
		errs = errors.Join(errs, fmt.Errorf("execution timeframe has no positive width"))
	}
	if cfg.BiasTimeframe.Seconds() <= cfg.ExecTimeframe.Seconds() {
		errs = errors.Join(errs, fmt.Errorf("bias timeframe must be wider than the execution timeframe"))
	}
	if cfg.RiskPerTrade <= 0 {
		errs = errors.Join(errs, fmt.Errorf("risk per trade must be positive"))
	}
	if cfg.DailyMaxLoss <= 0 {
		errs = errors.Join(errs, fmt.Errorf("daily max loss must be positive"))
	}
	if cfg.MaxConsecutiveLosses < 1 {
		errs = errors.Join(errs, fmt.Errorf("max consecutive losses must be at least 1"))
	}
	if cfg.Cooldown <= 0 {
		errs = errors.Join(errs, fmt.Errorf("cooldown duration must be positive"))
	}
	if cfg.AcceptanceBars < 1 {
		errs = errors.Join(errs, fmt.Errorf("acceptance bars must be at least 1"))
	}
	if cfg.JournalDir == "" {
		errs = errors.Join(errs, fmt.Errorf("journal directory cannot be an empty string"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}

	return errs
}

// Strategy defaults applied to every market.
const (
	retestBufferMult    = 0.25
	takeProfit1RMult    = 1.0
	takeProfit2RMult    = 2.0
	takeProfit1Fraction = 0.5
	structurePadATRMult = 0.5
	seatbeltATRMult     = 2.0
	emaFastPeriod       = 9
	emaSlowPeriod       = 21
	biasEMAFastPeriod   = 9
	biasEMASlowPeriod   = 21
	atrPeriod           = 14
	pivotLookback       = 3
	takerFeePercent     = 0.00045
	slippagePercent     = 0.0002
)

// Trade represents the automated breakout trading service.
type Trade struct {
	cfg          *TradeConfig
	fetchManager *fetch.Manager
	tradeEngine  *engine.Manager
	riskStates   map[string]*risk.State
	journal      *journal.Journal
	notifier     *notify.Telegram
	db           database.TradeStorer
	jobScheduler *gocron.Scheduler
	logger       *zerolog.Logger
	wg           sync.WaitGroup
}

// newLogger builds the service logger, teeing to a rotated log file when one
// is configured.
func newLogger(logFile string) *zerolog.Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	var writer io.Writer = console
	if logFile != "" {
		writer = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
		})
	}

	logger := zerolog.New(writer).With().Timestamp().Str("service", "trade").Logger()
	return &logger
}

// NewTrade initializes a new trade service.
func NewTrade(ctx context.Context, cfg *TradeConfig) (*Trade, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating trade service config: %w", err)
	}

	logger := newLogger(cfg.LogFile)

	notifierLogger := logger.With().Str("component", "notifier").Logger()
	notifier := notify.NewTelegram(&notify.TelegramConfig{
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
		Logger:   &notifierLogger,
	})

	journalLogger := logger.With().Str("component", "journal").Logger()
	tradeJournal, err := journal.NewJournal(&journal.Config{
		Dir:    cfg.JournalDir,
		Logger: &journalLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating trade journal: %w", err)
	}

	var db database.TradeStorer
	if cfg.DatabaseEndpoint != "" {
		dbLogger := logger.With().Str("component", "database").Logger()
		db, err = database.NewDatabase(ctx, &database.DatabaseConfig{
			Endpoint: cfg.DatabaseEndpoint,
			User:     cfg.DatabaseUser,
			Pass:     cfg.DatabasePass,
			Logger:   &dbLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating database: %w", err)
		}
	}

	service := &Trade{
		cfg:        cfg,
		riskStates: make(map[string]*risk.State),
		journal:    tradeJournal,
		notifier:   notifier,
		db:         db,
		logger:     logger,
	}

	engineLogger := logger.With().Str("component", "engine").Logger()
	tradeEngine, err := engine.NewManager(&engine.ManagerConfig{
		Subscribers: []func(event shared.Event){
			service.logEvent,
			service.notifyEvent,
		},
		Logger: &engineLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine manager: %w", err)
	}
	service.tradeEngine = tradeEngine

	brokerLogger := logger.With().Str("component", "broker").Logger()
	paperBroker, err := broker.NewPaper(&broker.PaperConfig{
		TakerFeePercent:           takerFeePercent,
		EntrySlippagePercent:      slippagePercent,
		StopSlippagePercent:       slippagePercent,
		TakeProfitSlippagePercent: slippagePercent,
		Logger:                    &brokerLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating paper broker: %w", err)
	}

	for _, name := range cfg.Markets {
		trader, err := service.newTrader(name, paperBroker, logger)
		if err != nil {
			return nil, fmt.Errorf("creating %s trader: %w", name, err)
		}

		err = tradeEngine.AddTrader(trader)
		if err != nil {
			return nil, fmt.Errorf("registering %s trader: %w", name, err)
		}
	}

	fetchLogger := logger.With().Str("component", "fetchmanager").Logger()
	fetchMgr, err := fetch.NewManager(&fetch.ManagerConfig{
		Markets:       cfg.Markets,
		ExecTimeframe: cfg.ExecTimeframe,
		Fetcher:       fetch.NewHyperliquidClient(&fetch.HyperliquidConfig{}),
		SendTick:      tradeEngine.SendTick,
		Backfill:      tradeEngine.BackfillTrader,
		Logger:        &fetchLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating fetch manager: %w", err)
	}
	service.fetchManager = fetchMgr

	service.jobScheduler = gocron.NewScheduler(time.UTC)

	return service, nil
}

// newTrader wires the full evaluation pipeline for the provided market.
func (t *Trade) newTrader(name string, executionBroker broker.Broker,
	logger *zerolog.Logger) (*engine.Trader, error) {
	profile := risk.FetchProfile(name)

	mkt, err := market.NewMarket(&market.Config{
		Market:        name,
		ExecTimeframe: t.cfg.ExecTimeframe,
		BiasTimeframe: t.cfg.BiasTimeframe,
	})
	if err != nil {
		return nil, fmt.Errorf("creating market: %w", err)
	}

	structureLogger := logger.With().Str("component", "structure").Str("market", name).Logger()
	sm, err := structure.NewStateMachine(&structure.Config{
		Market:            name,
		AcceptanceBars:    t.cfg.AcceptanceBars,
		RetestBufferMult:  retestBufferMult,
		StopMethod:        structure.StopPercentBuffer,
		StopBufferPercent: profile.StopBufferPercent,
		TakeProfit1RMult:  takeProfit1RMult,
		TakeProfit2RMult:  takeProfit2RMult,
		MinStopPercent:    profile.MinStopPercent,
		MaxStopPercent:    profile.MaxStopPercent,
		EmitEvent:         t.tradeEngine.SendEvent,
		Logger:            &structureLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating structure state machine: %w", err)
	}

	positionLogger := logger.With().Str("component", "position").Str("market", name).Logger()
	positions, err := position.NewManager(&position.ManagerConfig{
		Market:                 name,
		TakeProfit1Fraction:    takeProfit1Fraction,
		BreakevenBufferPercent: profile.StopBufferPercent,
		StructurePadATRMult:    structurePadATRMult,
		SeatbeltATRMult:        seatbeltATRMult,
		TimeStopBars:           t.cfg.TimeStopBars,
		Broker:                 executionBroker,
		EmitEvent:              t.tradeEngine.SendEvent,
		Logger:                 &positionLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating position manager: %w", err)
	}

	riskLogger := logger.With().Str("component", "risk").Str("market", name).Logger()
	riskState, err := risk.NewState(&risk.Config{
		Market:               name,
		DailyMaxLoss:         t.cfg.DailyMaxLoss,
		MaxConsecutiveLosses: t.cfg.MaxConsecutiveLosses,
		Cooldown:             t.cfg.Cooldown,
		EmitEvent:            t.tradeEngine.SendEvent,
		Logger:               &riskLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating risk state: %w", err)
	}
	t.riskStates[name] = riskState

	traderLogger := logger.With().Str("component", "trader").Str("market", name).Logger()
	trader, err := engine.NewTrader(&engine.TraderConfig{
		Market:            name,
		EMAFastPeriod:     emaFastPeriod,
		EMASlowPeriod:     emaSlowPeriod,
		BiasEMAFastPeriod: biasEMAFastPeriod,
		BiasEMASlowPeriod: biasEMASlowPeriod,
		ATRPeriod:         atrPeriod,
		PivotLookback:     pivotLookback,
		RiskPerTrade:      t.cfg.RiskPerTrade,
		RecordClosedTrade: t.recordClosedTrade,
		EmitEvent:         t.tradeEngine.SendEvent,
		Logger:            &traderLogger,
	}, mkt, sm, positions, riskState)
	if err != nil {
		return nil, fmt.Errorf("creating trader: %w", err)
	}

	return trader, nil
}

// recordClosedTrade persists the provided closed trade to the journal and the
// database, best effort and off the evaluation path.
func (t *Trade) recordClosedTrade(pos *position.Position) {
	go func() {
		err := t.journal.RecordClosedTrade(pos)
		if err != nil {
			t.logger.Error().Msgf("journaling %s trade: %v", pos.Market, err)
		}

		if t.db == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		err = t.db.PersistClosedTrade(ctx, pos)
		if err != nil {
			t.logger.Error().Msgf("persisting %s trade: %v", pos.Market, err)
		}
	}()
}

// logEvent logs the provided event.
func (t *Trade) logEvent(event shared.Event) {
	t.logger.Info().
		Str("event", event.Kind.String()).
		Str("market", event.Market).
		Float64("price", event.Price).
		Float64("pnl", event.PNL).
		Msg(event.Note)
}

// notifyEvent delivers push notifications for trade lifecycle events.
func (t *Trade) notifyEvent(event shared.Event) {
	if !t.notifier.Enabled() {
		return
	}

	var message string
	switch event.Kind {
	case shared.EventSetupConfirmed:
		message = fmt.Sprintf("%s: %s breakout confirmed @ %.4f, stop %.4f, tp1 %.4f",
			event.Market, event.Direction.String(), event.Price, event.Stop, event.TakeProfit1)
	case shared.EventPositionOpened:
		message = fmt.Sprintf("%s: opened %s %.6f @ %.4f, stop %.4f",
			event.Market, event.Direction.String(), event.Size, event.Price, event.Stop)
	case shared.EventTakeProfitOneTaken:
		message = fmt.Sprintf("%s: tp1 filled @ %.4f, pnl %.2f, runner stop %.4f",
			event.Market, event.Price, event.PNL, event.Stop)
	case shared.EventPositionClosed:
		message = fmt.Sprintf("%s: closed (%s) @ %.4f, pnl %.2f",
			event.Market, event.Reason.String(), event.Price, event.PNL)
	case shared.EventRiskBreakerEngaged:
		message = fmt.Sprintf("%s: risk breaker engaged, %s", event.Market, event.Note)
	case shared.EventRiskBreakerCleared:
		message = fmt.Sprintf("%s: risk breakers cleared", event.Market)
	default:
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		t.notifier.Notify(ctx, message)
	}()
}

// heartbeat emits a liveness event for every traded market.
func (t *Trade) heartbeat() {
	now := time.Now().UTC()
	for _, name := range t.cfg.Markets {
		event := shared.NewEvent(shared.EventHeartbeat, name, now)
		if state, ok := t.riskStates[name]; ok {
			event.PNL = state.DailyPNL()
		}
		t.tradeEngine.SendEvent(event)
	}
}

// logDailySummary logs the realized pnl per market at the UTC day rollover.
func (t *Trade) logDailySummary() {
	for name, state := range t.riskStates {
		t.logger.Info().Msgf("%s daily summary: realized pnl %.2f", name, state.DailyPNL())
	}
}

// bootstrap seeds every trader with historical candle data. A failed or
// empty fetch is non-fatal, the affected trader starts cold and accumulates
// candles live.
func (t *Trade) bootstrap(ctx context.Context) {
	for _, name := range t.cfg.Markets {
		history, err := t.fetchManager.Bootstrap(ctx, name)
		if err != nil {
			t.logger.Warn().Msgf("bootstrapping %s, starting cold: %v", name, err)
			continue
		}
		if len(history) == 0 {
			t.logger.Warn().Msgf("bootstrapping %s returned no candles, starting cold", name)
			continue
		}

		err = t.tradeEngine.SeedTrader(name, history)
		if err != nil {
			t.logger.Warn().Msgf("seeding %s trader, starting cold: %v", name, err)
			continue
		}

		t.logger.Info().Msgf("seeded %s with %d candles", name, len(history))
	}
}

// Run handles the lifecycle processes of the trade service.
func (t *Trade) Run(ctx context.Context) {
	t.bootstrap(ctx)

	_, err := t.jobScheduler.Every(1).Hour().Do(t.heartbeat)
	if err != nil {
		t.logger.Error().Msgf("scheduling heartbeat job: %v", err)
		t.cfg.Cancel()
		return
	}

	_, err = t.jobScheduler.Every(1).Day().At("00:00").Do(t.logDailySummary)
	if err != nil {
		t.logger.Error().Msgf("scheduling daily summary job: %v", err)
	}

	t.jobScheduler.StartAsync()
	defer t.jobScheduler.Stop()

	t.wg.Add(2)

	go func() {
		t.tradeEngine.Run(ctx)
		t.wg.Done()
	}()

	go func() {
		t.fetchManager.Run(ctx)
		t.wg.Done()
	}()

	t.wg.Wait()
}
