package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the configuration struct for the service.
type Config struct {
	// Markets represents the traded markets.
	Markets []string
	// ExecTimeframe is the execution timeframe.
	ExecTimeframe string
	// BiasTimeframe is the higher bias timeframe.
	BiasTimeframe string
	// RiskPerTrade is the account currency risked per trade.
	RiskPerTrade string
	// DailyMaxLoss is the daily realized loss budget per market.
	DailyMaxLoss string
	// MaxConsecutiveLosses is the losing streak length triggering a cooldown.
	MaxConsecutiveLosses int
	// CooldownMinutes is the entry block duration applied on a losing streak.
	CooldownMinutes int
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

	registeredFlags map[string]bool
}

// Validate asserts the config has sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if len(cfg.Markets) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no markets provided for trade service"))
	}
	if cfg.ExecTimeframe == "" {
		errs = errors.Join(errs, fmt.Errorf("execution timeframe cannot be an empty string"))
	}
	if cfg.BiasTimeframe == "" {
		errs = errors.Join(errs, fmt.Errorf("bias timeframe cannot be an empty string"))
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			var def []string
			if defValue != "" {
				def = strings.Split(defValue, ",")
			}
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = strings.Split(s, ",")
				return nil
			})
			// Set default if not provided via flag
			if len(def) > 0 {
				*value.(*[]string) = def
			}
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	err = cfg.registerFlag("markets", &cfg.Markets, "the traded markets")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("exectimeframe", &cfg.ExecTimeframe, "the execution timeframe")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("biastimeframe", &cfg.BiasTimeframe, "the bias timeframe")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("riskpertrade", &cfg.RiskPerTrade, "the account currency risked per trade")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("dailymaxloss", &cfg.DailyMaxLoss, "the daily realized loss budget per market")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("maxconsecutivelosses", &cfg.MaxConsecutiveLosses, "the losing streak length triggering a cooldown")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("cooldownminutes", &cfg.CooldownMinutes, "the entry block duration in minutes")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("acceptancebars", &cfg.AcceptanceBars, "the required consecutive confirming closes")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("timestopbars", &cfg.TimeStopBars, "the runner hold duration cap in bars")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("databaseendpoint", &cfg.DatabaseEndpoint, "the rqlite endpoint")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("databaseuser", &cfg.DatabaseUser, "the database user")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("databasepass", &cfg.DatabasePass, "the database user pass")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("telegrambottoken", &cfg.TelegramBotToken, "the telegram bot token")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("telegramchatid", &cfg.TelegramChatID, "the telegram chat id")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("journaldir", &cfg.JournalDir, "the trade journal directory")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("logfile", &cfg.LogFile, "the log file path")
	if err != nil {
		return err
	}

	// Parse command-line flags.
	flag.Parse()

	return cfg.Validate()
}
