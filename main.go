package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/dnldd/breakout/service"
	"github.com/dnldd/breakout/shared"
)

// Defaults applied when the corresponding config values are unset.
const (
	defaultRiskPerTrade         = 50.0
	defaultDailyMaxLoss         = 150.0
	defaultMaxConsecutiveLosses = 3
	defaultCooldownMinutes      = 120
	defaultAcceptanceBars       = 2
	defaultTimeStopBars         = 48
	defaultJournalDir           = "data"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

// parseFloat parses the provided value, falling back to the provided default
// when it is empty or malformed.
func parseFloat(value string, fallback float64) float64 {
	if value == "" {
		return fallback
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}

	return parsed
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		return
	}

	execTimeframe, err := shared.ParseTimeframe(cfg.ExecTimeframe)
	if err != nil {
		log.Printf("parsing execution timeframe: %v", err)
		return
	}

	biasTimeframe, err := shared.ParseTimeframe(cfg.BiasTimeframe)
	if err != nil {
		log.Printf("parsing bias timeframe: %v", err)
		return
	}

	maxConsecutiveLosses := cfg.MaxConsecutiveLosses
	if maxConsecutiveLosses == 0 {
		maxConsecutiveLosses = defaultMaxConsecutiveLosses
	}
	cooldownMinutes := cfg.CooldownMinutes
	if cooldownMinutes == 0 {
		cooldownMinutes = defaultCooldownMinutes
	}
	acceptanceBars := cfg.AcceptanceBars
	if acceptanceBars == 0 {
		acceptanceBars = defaultAcceptanceBars
	}
	timeStopBars := cfg.TimeStopBars
	if timeStopBars == 0 {
		timeStopBars = defaultTimeStopBars
	}
	journalDir := cfg.JournalDir
	if journalDir == "" {
		journalDir = defaultJournalDir
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tradeCfg := service.TradeConfig{
		Markets:              cfg.Markets,
		ExecTimeframe:        execTimeframe,
		BiasTimeframe:        biasTimeframe,
		RiskPerTrade:         parseFloat(cfg.RiskPerTrade, defaultRiskPerTrade),
		DailyMaxLoss:         parseFloat(cfg.DailyMaxLoss, defaultDailyMaxLoss),
		MaxConsecutiveLosses: maxConsecutiveLosses,
		Cooldown:             time.Duration(cooldownMinutes) * time.Minute,
		AcceptanceBars:       acceptanceBars,
		TimeStopBars:         timeStopBars,
		DatabaseEndpoint:     cfg.DatabaseEndpoint,
		DatabaseUser:         cfg.DatabaseUser,
		DatabasePass:         cfg.DatabasePass,
		TelegramBotToken:     cfg.TelegramBotToken,
		TelegramChatID:       cfg.TelegramChatID,
		JournalDir:           journalDir,
		LogFile:              cfg.LogFile,
		Cancel:               cancel,
	}

	trade, err := service.NewTrade(ctx, &tradeCfg)
	if err != nil {
		log.Printf("creating trade service: %v", err)
		return
	}

	go handleTermination(ctx, cancel)
	trade.Run(ctx)
}
