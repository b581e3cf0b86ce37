// Package marketfeed implements the Market Feed (C1): it fans a fetch
// out across every configured venue, bounding each call to a per-task
// timeout so one slow or dead venue never blocks the tick.
package marketfeed

import (
	"context"
	"sync"
	"time"

	"github.com/atlasquant/tradecore/internal/errs"
	"github.com/atlasquant/tradecore/internal/workerpool"
	"github.com/atlasquant/tradecore/pkg/retry"
	"github.com/atlasquant/tradecore/pkg/types"
	"go.uber.org/zap"
)

// Source is the external market data dependency consumed by the
// pipeline. Implementations own their own connection lifecycle; the
// pipeline only calls Fetch/Close.
type Source interface {
	Name() string
	// FetchTicker returns the latest frame for symbol, or an error if
	// unavailable. Must honor ctx's deadline.
	FetchTicker(ctx context.Context, symbol string) (types.MarketFrame, error)
	Close() error
}

// Feed fans Fetch out across every registered Source, running one task
// per (source, symbol) pair in parallel, each bounded by a per-call
// timeout.
type Feed struct {
	logger  *zap.Logger
	sources []Source
	pool    *workerpool.Pool
	timeout time.Duration
}

// New builds a Feed. timeout is the spec's per-venue market-fetch
// budget (default 10s).
func New(logger *zap.Logger, sources []Source, timeout time.Duration) *Feed {
	pool := workerpool.New(logger, workerpool.DefaultConfig("marketfeed", timeout))
	pool.Start()
	return &Feed{
		logger:  logger.Named("marketfeed"),
		sources: sources,
		pool:    pool,
		timeout: timeout,
	}
}

// Fetch pulls the latest frame for every symbol from every source in
// parallel. A source that errors or times out is simply absent from
// the result for that symbol — the tick proceeds with whatever
// survived rather than aborting on partial failure (per §5's timeout
// contract for C1).
func (f *Feed) Fetch(ctx context.Context, symbols []string) map[string]types.MarketFrame {
	var mu sync.Mutex
	out := make(map[string]types.MarketFrame, len(symbols))

	var fns []func(context.Context) error
	for _, src := range f.sources {
		for _, sym := range symbols {
			src, sym := src, sym
			fns = append(fns, func(taskCtx context.Context) error {
				// Transient I/O (venue timeout, network hiccup) is
				// retried with exponential backoff before the symbol
				// is treated as missing data for this tick.
				frame, err := retry.Do(taskCtx, retry.Default(), func(ctx context.Context) (types.MarketFrame, error) {
					return src.FetchTicker(ctx, sym)
				})
				if err != nil {
					f.logger.Warn("fetch failed",
						zap.String("source", src.Name()),
						zap.String("symbol", sym),
						zap.Error(errs.TransientIO(src.Name(), "fetch ticker "+sym, err)))
					return err
				}
				mu.Lock()
				// First source to answer for a symbol wins; later
				// venues are treated as redundancy, not overrides.
				if _, exists := out[sym]; !exists {
					out[sym] = frame
				}
				mu.Unlock()
				return nil
			})
		}
	}
	f.pool.RunAll(fns)
	return out
}

// Stop closes every source and the fan-out pool.
func (f *Feed) Stop() error {
	_ = f.pool.Stop()
	var firstErr error
	for _, src := range f.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
