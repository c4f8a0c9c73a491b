package pptx

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/translator"
	"pptx-translator/internal/types"
)

const (
	// DefaultMaxBatchChars is the default character budget of one batch
	DefaultMaxBatchChars = 4000
	// MinBatchChars is the floor for size-rejection re-batching
	MinBatchChars = 500
)

// DispatchRequest carries the per-run values sent with every batch
type DispatchRequest struct {
	SourceLang    string
	TargetLang    string
	Glossary      []types.GlossaryEntry
	Context       string
	MaxBatchChars int
}

// DispatchStats summarizes one dispatch
type DispatchStats struct {
	Batches     int
	Calls       int
	Rebatches   int
	UniqueTexts int
	Missing     []string
}

// Dispatcher sends batches to an engine, with an optional bounded pool of
// concurrent calls and an optional request rate limit
type Dispatcher struct {
	engine      translator.Engine
	concurrency int
	limiter     *rate.Limiter
	minBatch    int

	mu    sync.Mutex
	stats DispatchStats
}

// NewDispatcher creates a dispatcher. requestsPerSecond <= 0 disables rate limiting.
func NewDispatcher(engine translator.Engine, concurrency int, requestsPerSecond float64) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	d := &Dispatcher{
		engine:      engine,
		concurrency: concurrency,
		minBatch:    MinBatchChars,
	}
	if requestsPerSecond > 0 {
		burst := concurrency
		d.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return d
}

// Dispatch translates units and returns a map from unit id to translated text.
// Units the engine did not return are absent from the map; callers fall back
// to the source text for them.
func (d *Dispatcher) Dispatch(ctx context.Context, units []*TranslatableUnit, req DispatchRequest) (map[string]string, error) {
	budget := req.MaxBatchChars
	if budget <= 0 {
		budget = DefaultMaxBatchChars
	}
	batches := MakeBatches(units, budget)
	d.record(func(s *DispatchStats) { s.Batches += len(batches) })
	if len(batches) == 0 {
		return map[string]string{}, nil
	}

	results := make([]map[string]string, len(batches))
	if d.concurrency > 1 && len(batches) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.concurrency)
		for i, batch := range batches {
			i, batch := i, batch
			g.Go(func() error {
				out, err := d.translateBatch(gctx, i, batch, budget, req)
				if err != nil {
					return err
				}
				results[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, batch := range batches {
			out, err := d.translateBatch(ctx, i, batch, budget, req)
			if err != nil {
				return nil, err
			}
			results[i] = out
		}
	}

	merged := make(map[string]string, len(units))
	for i, batch := range batches {
		for _, u := range batch {
			if text, ok := results[i][u.ID]; ok {
				merged[u.ID] = text
			}
		}
	}
	return merged, nil
}

// translateBatch calls the engine for one batch. A size rejection splits the
// batch at half the budget (never below the floor) and retries the pieces.
func (d *Dispatcher) translateBatch(ctx context.Context, idx int, batch []*TranslatableUnit, budget int, req DispatchRequest) (map[string]string, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, types.NewAppError(types.ErrCancelled, "translation cancelled", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCancelled, "translation cancelled", err)
	}

	segments := make([]translator.Segment, len(batch))
	for i, u := range batch {
		segments[i] = translator.Segment{ID: u.ID, Text: u.SourceText}
	}
	d.record(func(s *DispatchStats) { s.Calls++ })

	out, err := d.engine.TranslateBatch(ctx, translator.BatchRequest{
		Segments:   segments,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Glossary:   req.Glossary,
		Context:    req.Context,
	})
	if err == nil {
		logger.Debug("batch translated",
			logger.Int("batch", idx),
			logger.Int("units", len(batch)),
			logger.Int("returned", len(out)))
		return out, nil
	}

	if !translator.IsSizeRejected(err) {
		if types.IsCode(err, types.ErrBackend) || types.IsCode(err, types.ErrCancelled) {
			return nil, err
		}
		return nil, types.NewAppErrorWithDetails(types.ErrBackend, "translation backend failed", fmt.Sprintf("batch %d", idx), err)
	}

	if len(batch) == 1 || budget <= d.minBatch {
		return nil, types.NewAppErrorWithDetails(
			types.ErrBackend,
			"batch rejected as too large and cannot be split further",
			fmt.Sprintf("batch %d: %d units, %d chars, budget %d", idx, len(batch), batchChars(batch), budget),
			err,
		)
	}

	smaller := budget / 2
	if smaller < d.minBatch {
		smaller = d.minBatch
	}
	logger.Warn("batch rejected as too large, retrying with smaller batches",
		logger.Int("batch", idx),
		logger.Int("chars", batchChars(batch)),
		logger.Int("budget", smaller))
	d.record(func(s *DispatchStats) { s.Rebatches++ })

	merged := make(map[string]string, len(batch))
	for _, sub := range MakeBatches(batch, smaller) {
		partial, err := d.translateBatch(ctx, idx, sub, smaller, req)
		if err != nil {
			return nil, err
		}
		for id, text := range partial {
			merged[id] = text
		}
	}
	return merged, nil
}

func (d *Dispatcher) record(fn func(s *DispatchStats)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.stats)
}

// Stats returns a copy of the counters collected so far
func (d *Dispatcher) Stats() DispatchStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Missing = append([]string(nil), d.stats.Missing...)
	return s
}

// TranslateUnits translates units through the dispatcher and stores the
// result on every unit. With dedupe, each distinct source text is sent once
// and its translation is shared by all units with that text. Units that end
// up without a non-empty translation fall back to their source text with a
// warning; their ids are returned.
func TranslateUnits(ctx context.Context, d *Dispatcher, units []*TranslatableUnit, req DispatchRequest, dedupe bool) ([]string, error) {
	if len(units) == 0 {
		return nil, nil
	}

	var byID map[string]string
	if dedupe {
		unique := UniqueBySource(units)
		logger.Info("deduplicated texts",
			logger.Int("units", len(units)),
			logger.Int("unique", len(unique)))
		d.record(func(s *DispatchStats) { s.UniqueTexts = len(unique) })

		out, err := d.Dispatch(ctx, unique, req)
		if err != nil {
			return nil, err
		}
		byID = BroadcastBySource(units, unique, out)
	} else {
		out, err := d.Dispatch(ctx, units, req)
		if err != nil {
			return nil, err
		}
		byID = out
	}

	var missing []string
	for _, u := range units {
		text, ok := byID[u.ID]
		if !ok || text == "" {
			logger.Warn("missing translation, falling back to source text",
				logger.String("id", u.ID),
				logger.String("location", u.Location))
			missing = append(missing, u.ID)
			text = u.SourceText
		}
		u.SetTranslation(text)
	}
	d.record(func(s *DispatchStats) { s.Missing = append(s.Missing, missing...) })
	return missing, nil
}
