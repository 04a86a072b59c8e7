package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/asset"
	"github.com/adred-codev/bingx-refresh/internal/exchange"
	"github.com/adred-codev/bingx-refresh/internal/logging"
	"github.com/adred-codev/bingx-refresh/internal/progress"
)

// fetch runs the combined symbols+tickers operation, falling back to serial
// fetches on a non-rate-limit failure. A rate-limit error is never retried
// here; it propagates so the caller can abort.
func (o *Orchestrator) fetch(ctx context.Context) (contracts []asset.Contract, tickers []asset.Ticker, warning bool, err error) {
	combined, cErr := o.exchange.GetSymbolsAndTickers(ctx)
	if cErr == nil {
		return combined.Contracts, combined.Tickers, false, nil
	}
	if _, ok := exchange.IsRateLimit(cErr); ok {
		return nil, nil, false, cErr
	}

	o.logger.Warn().Err(cErr).Msg("combined fetch failed, falling back to serial fetches")

	contracts, err = o.exchange.GetSymbols(ctx)
	if err != nil {
		return nil, nil, false, err
	}

	tickers, tErr := o.exchange.GetAllTickers(ctx)
	if tErr != nil {
		o.logger.Warn().Err(tErr).Msg("ticker fetch failed after serial fallback, proceeding without market data")
		return contracts, nil, true, nil
	}
	return contracts, tickers, false, nil
}

// dedupeContracts builds a symbol-keyed list keeping the first occurrence
// of each symbol. Contracts with an empty symbol are kept as-is;
// synthesized symbols are assigned downstream in transform, so they can
// never collide with one another here.
func dedupeContracts(contracts []asset.Contract) (deduped []asset.Contract, duplicates int) {
	seen := make(map[string]bool, len(contracts))
	deduped = make([]asset.Contract, 0, len(contracts))
	for _, c := range contracts {
		if c.Symbol == "" {
			deduped = append(deduped, c)
			continue
		}
		if seen[c.Symbol] {
			duplicates++
			continue
		}
		seen[c.Symbol] = true
		deduped = append(deduped, c)
	}
	return deduped, duplicates
}

// indexTickers builds a symbol-keyed lookup for the transform stage's
// contract/ticker join.
func indexTickers(tickers []asset.Ticker) map[string]*asset.Ticker {
	idx := make(map[string]*asset.Ticker, len(tickers))
	for i := range tickers {
		idx[tickers[i].Symbol] = &tickers[i]
	}
	return idx
}

// transform maps deduplicated contracts onto Asset records, processing
// batches of cfg.TransformBatchSize concurrently up to
// cfg.TransformConcurrency at a time, emitting progress roughly every 200
// contracts.
func (o *Orchestrator) transform(ctx context.Context, sessionID string, contracts []asset.Contract, tickerIndex map[string]*asset.Ticker) ([]asset.Asset, int, error) {
	batchSize := o.cfg.TransformBatchSize
	if batchSize < 1 {
		batchSize = 100
	}
	concurrency := o.cfg.TransformConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	epochMillis := time.Now().UnixMilli()
	total := len(contracts)
	numBatches := (total + batchSize - 1) / batchSize

	type batchOutput struct {
		assets            []asset.Asset
		withoutMarketData int
	}
	results := make([]batchOutput, numBatches)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0
	lastEmitted := 0
	var cancelled bool

	for b := 0; b < numBatches; b++ {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		start := b * batchSize
		end := start + batchSize
		if end > total {
			end = total
		}
		batchIdx := b

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					logging.LogPanic(o.logger, r, "transform worker panic recovered", map[string]any{
						"sessionId": sessionID, "batch": batchIdx,
					})
				}
			}()

			out := batchOutput{assets: make([]asset.Asset, 0, end-start)}
			for i := start; i < end; i++ {
				c := contracts[i]
				t := tickerIndex[c.Symbol]
				if t == nil {
					out.withoutMarketData++
				}
				out.assets = append(out.assets, asset.Transform(c, t, i, epochMillis))
			}

			mu.Lock()
			results[batchIdx] = out
			processed += len(out.assets)
			pc := processed
			shouldEmit := pc-lastEmitted >= 200 || pc == total
			if shouldEmit {
				lastEmitted = pc
			}
			mu.Unlock()

			if shouldEmit {
				current := ""
				if len(out.assets) > 0 {
					current = out.assets[len(out.assets)-1].Symbol
				}
				pct := 55 + (float64(pc)/float64(max(total, 1)))*20
				o.publish(sessionID, progress.Event{
					Type: "progress", SessionID: sessionID, Message: "transforming",
					Progress: pct, Processed: pc, Total: total, Current: current,
				})
			}
		}()
	}
	wg.Wait()

	if cancelled {
		return nil, 0, &cancelledError{}
	}

	assets := make([]asset.Asset, 0, total)
	withoutMarketData := 0
	for _, r := range results {
		assets = append(assets, r.assets...)
		withoutMarketData += r.withoutMarketData
	}
	return assets, withoutMarketData, nil
}
