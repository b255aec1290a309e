// Package imagingsql implements the imaging-data SQL backend adapter
// (spec.md §4.4): execute the sqlimaging dialect's generated SELECT
// against a pre-sized pgx connection pool.
package imagingsql

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samply/focus-go/internal/backend"
	"github.com/samply/focus-go/internal/logging"
)

const maxPoolSize = 10

// Adapter executes SQL against the imaging-data store.
type Adapter struct {
	pool *pgxpool.Pool
}

// Connect builds the pool (max 10 connections) and retries the initial
// ping up to retryCount times with 1-second sleeps (spec.md §4.4 "startup
// retry with 1-second sleeps up to N attempts, N configurable").
func Connect(ctx context.Context, dsn string, retryCount int, log logging.Logger) (*Adapter, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("imagingsql: parse dsn: %w", err)
	}
	poolCfg.MaxConns = maxPoolSize

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("imagingsql: create pool: %w", err)
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), uint64(retryCount))
	err = backoff.Retry(func() error {
		if err := pool.Ping(ctx); err != nil {
			log.Warn("imagingsql: ping failed, retrying", "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("imagingsql: ping failed after %d attempts: %w", retryCount+1, err)
	}

	return &Adapter{pool: pool}, nil
}

// CheckAvailability pings the pool.
func (a *Adapter) CheckAvailability(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return &backend.ErrBackendStatus{Op: "imagingsql check_availability", Body: err.Error()}
	}
	return nil
}

// Close releases the pool.
func (a *Adapter) Close() {
	a.pool.Close()
}

// Submit executes a sqlimaging.Compile SELECT and returns its single
// "total" column as the report's only group.
func (a *Adapter) Submit(ctx context.Context, q backend.CompiledQuery) (backend.SubmitResult, error) {
	if q.Kind != backend.KindSQL {
		return backend.SubmitResult{}, fmt.Errorf("imagingsql: wrong query kind %d", q.Kind)
	}

	row := a.pool.QueryRow(ctx, q.SQL)
	var total int64
	if err := row.Scan(&total); err != nil {
		return backend.SubmitResult{}, &backend.ErrBackendStatus{Op: "imagingsql submit", Body: err.Error()}
	}

	report := backend.Report{Totals: map[string]int64{"total": total}}
	return backend.SubmitResult{Report: &report}, nil
}
