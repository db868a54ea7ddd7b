package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dnldd/breakout/position"
	"github.com/rs/zerolog"
)

// tradeHeader is the column layout of the trade journal.
var tradeHeader = []string{
	"ts_utc",
	"trade_id",
	"market",
	"direction",
	"size",
	"entry_px",
	"exit_px",
	"pnl",
	"fees",
	"reason",
	"opened_utc",
	"closed_utc",
}

// Config represents the trade journal configuration.
type Config struct {
	// Dir is the directory the journal files are written to.
	Dir string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.Dir == "" {
		errs = errors.Join(errs, fmt.Errorf("journal directory cannot be an empty string"))
	}

	return errs
}

// Journal appends closed trades to a csv file for offline review. Appends are
// serialized, the journal is shared by every market.
type Journal struct {
	cfg *Config
	mtx sync.Mutex
}

// NewJournal initializes a new trade journal.
func NewJournal(cfg *Config) (*Journal, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating journal config: %w", err)
	}

	err = os.MkdirAll(cfg.Dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	return &Journal{cfg: cfg}, nil
}

// RecordClosedTrade appends the provided closed trade to the trade journal.
func (j *Journal) RecordClosedTrade(pos *position.Position) error {
	j.mtx.Lock()
	defer j.mtx.Unlock()

	path := filepath.Join(j.cfg.Dir, "trades.csv")

	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening trade journal: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if writeHeader {
		err = writer.Write(tradeHeader)
		if err != nil {
			return fmt.Errorf("writing trade journal header: %w", err)
		}
	}

	row := []string{
		time.Now().UTC().Format(time.RFC3339),
		pos.ID,
		pos.Market,
		pos.Direction.String(),
		formatFloat(pos.InitialSize),
		formatFloat(pos.EntryPrice),
		formatFloat(pos.ExitPrice),
		formatFloat(pos.RealizedPNL),
		formatFloat(pos.FeesPaid),
		pos.ExitReason.String(),
		pos.OpenedOn.UTC().Format(time.RFC3339),
		pos.ClosedOn.UTC().Format(time.RFC3339),
	}

	err = writer.Write(row)
	if err != nil {
		return fmt.Errorf("writing trade journal row: %w", err)
	}

	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
