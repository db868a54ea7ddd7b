package database

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/breakout/position"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createTradeTableSQL = "CREATE TABLE IF NOT EXISTS trade (id TEXT PRIMARY KEY, market TEXT, " +
		"direction TEXT, entryprice REAL, exitprice REAL, size REAL, pnl REAL, fees REAL, " +
		"exitreason TEXT, openedon INTEGER, closedon INTEGER)"
	createMetadataTableSQL = "CREATE TABLE IF NOT EXISTS metadata (id TEXT PRIMARY KEY, " +
		"total INTEGER, wins INTEGER, losses INTEGER, pnl REAL, createdon INTEGER)"
	persistClosedTradeSQL = "INSERT INTO trade(id, market, direction, entryprice, exitprice, " +
		"size, pnl, fees, exitreason, openedon, closedon) VALUES(?,?,?,?,?,?,?,?,?,?,?)"
	findMetadataSQL   = "SELECT * FROM metadata WHERE id = ?"
	updateMetadataSQL = "UPDATE metadata SET total = total + 1, wins = wins + ?, " +
		"losses = losses + ?, pnl = pnl + ? WHERE id = ?"
	persistMetadataSQL = "INSERT INTO metadata(id, total, wins, losses, pnl, createdon) " +
		"VALUES(?,?,?,?,?,?)"
)

// TradeStorer defines the requirements for storing closed trades.
type TradeStorer interface {
	// PersistClosedTrade stores the provided closed trade to the database.
	PersistClosedTrade(ctx context.Context, pos *position.Position) error
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Database represents the database connection.
type Database struct {
	cfg    *DatabaseConfig
	client *rqlitehttp.Client
}

// Ensure the database implements the TradeStorer interface.
var _ TradeStorer = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	client.SetBasicAuth(cfg.User, cfg.Pass)

	db := &Database{
		cfg:    cfg,
		client: client,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// bootstrap initializes the database.
func (db *Database) bootstrap(ctx context.Context) error {
	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createTradeTableSQL},
		{SQL: createMetadataTableSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	return nil
}

// generateMetadataID generates deterministic ids for metadata rollups using
// the current month, week and market.
func generateMetadataID(currentTime time.Time, market string) string {
	month := currentTime.Month().String()
	week := currentTime.Day() / 7

	id := fmt.Sprintf("%s-Week-%d-%s", month, week, market)
	return id
}

// PersistClosedTrade stores the provided closed trade to the database and
// updates the weekly win/loss rollup for its market.
func (db *Database) PersistClosedTrade(ctx context.Context, pos *position.Position) error {
	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistClosedTradeSQL,
			PositionalParams: []any{pos.ID, pos.Market, pos.Direction.String(), pos.EntryPrice,
				pos.ExitPrice, pos.InitialSize, pos.RealizedPNL, pos.FeesPaid,
				pos.ExitReason.String(), pos.OpenedOn.Unix(), pos.ClosedOn.Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return err
	}

	var win, loss int
	switch {
	case pos.ClosedOn.IsZero() || pos.CurrentSize != 0:
		db.cfg.Logger.Error().Msgf("unexpected closed trade state for metadata calculations: %s",
			spew.Sdump(pos))
	case pos.RealizedPNL >= 0:
		win++
	default:
		loss++
	}

	id := generateMetadataID(pos.ClosedOn.UTC(), pos.Market)
	resp, err := db.client.QuerySingle(ctx, findMetadataSQL, id)
	if err != nil {
		return err
	}

	exists := len(resp.GetQueryResultsAssoc()) > 0
	switch {
	case exists:
		resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
			{
				SQL:              updateMetadataSQL,
				PositionalParams: []any{win, loss, pos.RealizedPNL, id},
			},
		}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
		if err != nil {
			return err
		}
		has, idx, errStr := resp.HasError()
		if has {
			return fmt.Errorf("updating metadata %s: %d -> %s", id, idx, errStr)
		}
	default:
		resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
			{
				SQL:              persistMetadataSQL,
				PositionalParams: []any{id, 1, win, loss, pos.RealizedPNL, pos.ClosedOn.Unix()},
			},
		}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
		if err != nil {
			return err
		}
		has, idx, errStr := resp.HasError()
		if has {
			return fmt.Errorf("persisting metadata %s: %d -> %s", id, idx, errStr)
		}
	}

	return nil
}
