package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	masterdata "supplier-core/internal/masterdata/domain"
	"supplier-core/internal/observability/metrics"
	settlement "supplier-core/internal/settlement/domain"
)

// ErrNoSupply is returned when no supply covers a time series.
var ErrNoSupply = errors.New("settlement engine: no supply covers the time series")

const defaultSettleBatch = 50

// EngineStores are the master data stores the engine reads.
type EngineStores struct {
	TimeSeries     masterdata.TimeSeriesRepository
	Supplies       masterdata.SupplyRepository
	MeteringPoints masterdata.MeteringPointRepository
}

// Engine settles unsettled time series versions. Each (metering point,
// supply, time series) triple is settled at most once; a newer version
// voids an uninvoiced settlement or corrects an invoiced one.
type Engine struct {
	calc   *Calculator
	repo   settlement.Repository
	stores EngineStores
	mode   settlement.CorrectionMode
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithCorrectionMode selects delta or full corrections.
func WithCorrectionMode(mode settlement.CorrectionMode) EngineOption {
	return func(e *Engine) {
		if mode != "" {
			e.mode = mode
		}
	}
}

// WithEngineClock overrides the time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs a settlement engine.
func NewEngine(calc *Calculator, repo settlement.Repository, stores EngineStores, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if calc == nil {
		return nil, errors.New("settlement engine: nil calculator")
	}
	if repo == nil {
		return nil, errors.New("settlement engine: nil repository")
	}
	if stores.TimeSeries == nil || stores.Supplies == nil {
		return nil, errors.New("settlement engine: nil master data store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		calc:   calc,
		repo:   repo,
		stores: stores,
		mode:   settlement.CorrectionDelta,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Result summarizes one settlement pass.
type Result struct {
	Settled     int
	Corrections int
	Voided      int
	Skipped     int
	Failed      int
}

// Settle processes up to limit unsettled time series. Failures of one
// series are logged and counted; the pass goes on.
func (e *Engine) Settle(ctx context.Context, limit int) (Result, error) {
	if limit <= 0 {
		limit = defaultSettleBatch
	}
	var res Result
	series, err := e.stores.TimeSeries.ListUnsettled(ctx, limit)
	if err != nil {
		return res, err
	}
	for _, ts := range series {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := e.SettleSeries(ctx, ts)
		switch {
		case errors.Is(err, ErrNoSupply):
			res.Skipped++
			continue
		case err != nil:
			res.Failed++
			e.logger.Warn("settlement failed",
				zap.String("time_series_id", ts.ID),
				zap.String("gsrn", ts.MeteringPoint),
				zap.Error(err),
			)
			continue
		}
		res.Voided += out.Voided
		for _, s := range out.Created {
			if s.IsCorrection() {
				res.Corrections++
			} else {
				res.Settled++
			}
		}
	}
	return res, nil
}

// SeriesOutcome is what settling one time series changed.
type SeriesOutcome struct {
	Created []*settlement.Settlement
	Voided  int
}

// SettleSeries settles one time series against every supply it overlaps.
// The outcome is empty when every supply was already settled.
func (e *Engine) SettleSeries(ctx context.Context, ts *masterdata.TimeSeries) (SeriesOutcome, error) {
	var out SeriesOutcome
	now := e.now()
	supplies, err := e.stores.Supplies.ListByMeteringPoint(ctx, ts.MeteringPoint)
	if err != nil {
		return out, err
	}
	mp, err := e.meteringPoint(ctx, ts.MeteringPoint)
	if err != nil {
		return out, err
	}

	covered := false
	for _, supply := range supplies {
		period, ok := ts.Period().Intersect(supply.Period())
		if !ok || !period.End.After(period.Start) {
			continue
		}
		covered = true
		created, voided, err := e.settleSupply(ctx, ts, mp, supply, period)
		if err != nil {
			if markErr := e.stores.TimeSeries.MarkChecked(ctx, ts.ID, now); markErr != nil {
				e.logger.Error("mark time series checked",
					zap.String("time_series_id", ts.ID),
					zap.Error(markErr),
				)
			}
			return out, fmt.Errorf("supply %s: %w", supply.ID, err)
		}
		out.Voided += voided
		if created != nil {
			out.Created = append(out.Created, created)
		}
	}
	if !covered {
		if err := e.stores.TimeSeries.MarkChecked(ctx, ts.ID, now); err != nil {
			return out, err
		}
		return out, ErrNoSupply
	}
	return out, e.stores.TimeSeries.MarkSettled(ctx, ts.ID, now)
}

func (e *Engine) meteringPoint(ctx context.Context, gsrn string) (*masterdata.MeteringPoint, error) {
	if e.stores.MeteringPoints == nil {
		return nil, nil
	}
	mp, err := e.stores.MeteringPoints.Get(ctx, gsrn)
	if errors.Is(err, masterdata.ErrNotFound) {
		return nil, nil
	}
	return mp, err
}

func (e *Engine) settleSupply(ctx context.Context, ts *masterdata.TimeSeries, mp *masterdata.MeteringPoint, supply masterdata.Supply, period masterdata.Period) (*settlement.Settlement, int, error) {
	start := time.Now()
	kind := "original"
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveSettlement(kind, result, time.Since(start))
	}()

	existing, err := e.repo.ListForSupply(ctx, ts.MeteringPoint, supply.ID, period.Start, period.End)
	if err != nil {
		result = metrics.ResultError
		return nil, 0, err
	}
	for _, s := range existing {
		if s.TimeSeriesID() == ts.ID && s.Status() != settlement.StatusVoided {
			kind = "noop"
			return nil, 0, nil
		}
	}

	lines, err := e.calc.Compute(ctx, Input{MeteringPoint: mp, Supply: supply, Series: ts, Period: period})
	if err != nil {
		result = metrics.ResultError
		return nil, 0, err
	}

	now := e.now()
	var commit settlement.Commit
	var billed []*settlement.Settlement
	for _, s := range existing {
		switch s.Status() {
		case settlement.StatusCalculated:
			if err := s.Void(fmt.Sprintf("superseded by time series version %d", ts.Version), now); err != nil {
				result = metrics.ResultError
				return nil, 0, err
			}
			commit.Superseded = append(commit.Superseded, settlement.Superseded{Settlement: s, From: settlement.StatusCalculated})
		case settlement.StatusInvoiced, settlement.StatusAdjusted:
			billed = append(billed, s)
		}
	}

	draft := settlement.Draft{
		ID:                e.newID(),
		MeteringPoint:     ts.MeteringPoint,
		SupplyID:          supply.ID,
		TimeSeriesID:      ts.ID,
		TimeSeriesVersion: ts.Version,
		PeriodStart:       period.Start,
		PeriodEnd:         period.End,
		CreatedAt:         now,
	}
	var created *settlement.Settlement
	if len(billed) == 0 {
		created, err = settlement.New(draft)
		if err != nil {
			result = metrics.ResultError
			return nil, 0, err
		}
		for _, l := range lines {
			created.AddLine(l)
		}
	} else {
		kind = "correction"
		for _, s := range billed {
			if s.Status() != settlement.StatusInvoiced {
				continue
			}
			if err := s.MarkAdjusted(now); err != nil {
				result = metrics.ResultError
				return nil, 0, err
			}
			commit.Superseded = append(commit.Superseded, settlement.Superseded{Settlement: s, From: settlement.StatusInvoiced})
		}
		created, err = settlement.NewCorrection(draft, billed[len(billed)-1], e.mode)
		if err != nil {
			result = metrics.ResultError
			return nil, 0, err
		}
		if e.mode == settlement.CorrectionFull {
			for _, l := range lines {
				created.AddLine(l)
			}
		} else {
			for _, l := range deltaLines(lines, billed) {
				created.AddLine(l)
			}
		}
	}
	commit.Created = created

	if err := e.repo.Save(ctx, commit); err != nil {
		if errors.Is(err, settlement.ErrAlreadySettled) {
			kind = "noop"
			return nil, 0, nil
		}
		result = metrics.ResultError
		return nil, 0, err
	}
	voided := 0
	for _, sup := range commit.Superseded {
		if sup.Settlement.Status() == settlement.StatusVoided {
			voided++
		}
	}
	e.logger.Info("settlement calculated",
		zap.String("settlement_id", created.ID()),
		zap.Int64("document_number", created.DocumentNumber()),
		zap.String("gsrn", created.MeteringPoint()),
		zap.String("supply_id", created.SupplyID()),
		zap.Int("time_series_version", created.TimeSeriesVersion()),
		zap.Bool("correction", created.IsCorrection()),
		zap.String("total_amount", created.TotalAmount().StringFixed(2)),
		zap.Int("superseded", len(commit.Superseded)),
	)
	return created, voided, nil
}

// invoicedContent is what the billed chain has put on invoices so far. An
// original or full correction replaces the content; a delta adds to it.
func invoicedContent(billed []*settlement.Settlement) map[string]settlement.Line {
	acc := make(map[string]settlement.Line)
	for _, s := range billed {
		if !s.IsCorrection() || s.CorrectionMode() == settlement.CorrectionFull {
			acc = make(map[string]settlement.Line)
		}
		settlement.Accumulate(acc, s.Lines())
	}
	return acc
}

// deltaLines returns the lines that bring the invoiced content up to lines.
// A price no longer linked is credited in full.
func deltaLines(lines []settlement.Line, billed []*settlement.Settlement) []settlement.Line {
	base := invoicedContent(billed)
	var out []settlement.Line
	for _, l := range lines {
		d := l.Delta(base[l.Key()])
		delete(base, l.Key())
		if !d.Zero() {
			out = append(out, d)
		}
	}
	for _, l := range orderedLines(base) {
		empty := settlement.Line{PriceID: l.PriceID, Kind: l.Kind, Description: l.Description}
		if d := empty.Delta(l); !d.Zero() {
			out = append(out, d)
		}
	}
	return out
}

func orderedLines(m map[string]settlement.Line) []settlement.Line {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]settlement.Line, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
