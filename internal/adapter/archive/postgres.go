// Package archive stores quote history for the read API and dashboards.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"pricestream/internal/domain/model"
	"pricestream/internal/domain/port"
)

type PostgresArchive struct {
	db *sql.DB
}

var _ port.Archive = (*PostgresArchive)(nil)

func NewPostgresArchive(connStr string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresArchive{db: db}, nil
}

func (a *PostgresArchive) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS quote_history (
		id BIGSERIAL PRIMARY KEY,
		feed VARCHAR(50) NOT NULL,
		asset_id BIGINT NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		isin VARCHAR(12),
		live_price NUMERIC(20,6) NOT NULL,
		previous_close NUMERIC(20,6),
		day_change_pct DOUBLE PRECISION NOT NULL,
		currency VARCHAR(8) NOT NULL,
		quoted_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_quote_history_asset_quoted ON quote_history(asset_id, quoted_at);
	CREATE INDEX IF NOT EXISTS idx_quote_history_symbol_quoted ON quote_history(symbol, quoted_at);
	`
	_, err := a.db.ExecContext(ctx, query)
	return err
}

func (a *PostgresArchive) InsertQuotes(ctx context.Context, feed string, quotes []model.PriceQuote) error {
	if len(quotes) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO quote_history
			(feed, asset_id, symbol, isin, live_price, previous_close, day_change_pct, currency, quoted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, q := range quotes {
		var isin any
		if q.ISIN != nil {
			isin = *q.ISIN
		}
		var prevClose any
		if q.PreviousClose != nil {
			prevClose = q.PreviousClose.String()
		}

		if _, err := stmt.ExecContext(ctx,
			feed, q.AssetID, q.Symbol, isin,
			q.LivePrice.String(), prevClose,
			q.DayChangePct, q.Currency, q.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to insert quote for asset %d: %w", q.AssetID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit quote batch: %w", err)
	}
	return nil
}

func (a *PostgresArchive) LatestQuote(ctx context.Context, assetID int64) (*model.PriceQuote, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT asset_id, symbol, isin, live_price, previous_close, day_change_pct, currency, quoted_at
		FROM quote_history
		WHERE asset_id = $1
		ORDER BY quoted_at DESC
		LIMIT 1`, assetID)

	var (
		q         model.PriceQuote
		isin      sql.NullString
		price     string
		prevClose sql.NullString
	)
	if err := row.Scan(&q.AssetID, &q.Symbol, &isin, &price, &prevClose, &q.DayChangePct, &q.Currency, &q.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest quote: %w", err)
	}

	live, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("failed to parse archived price: %w", err)
	}
	q.LivePrice = live
	if isin.Valid {
		v := isin.String
		q.ISIN = &v
	}
	if prevClose.Valid {
		pc, err := decimal.NewFromString(prevClose.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse archived previous close: %w", err)
		}
		q.PreviousClose = &pc
	}
	return &q, nil
}

func (a *PostgresArchive) HighestPrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error) {
	return a.aggregate(ctx, "MAX", symbol, period)
}

func (a *PostgresArchive) LowestPrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error) {
	return a.aggregate(ctx, "MIN", symbol, period)
}

func (a *PostgresArchive) AveragePrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error) {
	return a.aggregate(ctx, "AVG", symbol, period)
}

func (a *PostgresArchive) aggregate(ctx context.Context, fn, symbol string, period time.Duration) (*model.PriceStat, error) {
	now := time.Now()
	from := now.Add(-period)

	row := a.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s(live_price) FROM quote_history WHERE symbol = $1 AND quoted_at >= $2`, fn),
		symbol, from)

	var value sql.NullString
	if err := row.Scan(&value); err != nil {
		return nil, fmt.Errorf("failed to query %s price: %w", fn, err)
	}
	if !value.Valid {
		return nil, nil
	}

	v, err := decimal.NewFromString(value.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s price: %w", fn, err)
	}

	return &model.PriceStat{Symbol: symbol, Value: v, From: from, To: now}, nil
}

func (a *PostgresArchive) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM quote_history WHERE quoted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old quotes: %w", err)
	}
	return res.RowsAffected()
}

func (a *PostgresArchive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *PostgresArchive) Close() error {
	return a.db.Close()
}
