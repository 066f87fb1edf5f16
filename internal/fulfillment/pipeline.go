package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-fulfillment/internal/obs"
)

// Pipeline runs the reconciliation stages. Each stage walks its collection one
// item at a time; a failing item is recorded in the report and never stops the
// batch. Concurrent runs of the same stage must be prevented by the caller.
type Pipeline struct {
	Shipments ShipmentStore
	Stock     StockStore
	Registry  *Registry
	Reporter  ErrorReporter
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Run dispatches to the operation for stage.
func (p *Pipeline) Run(ctx context.Context, stage Stage) (Report, error) {
	switch stage {
	case StageReady:
		return p.ProcessReady(ctx)
	case StageFulfilling:
		return p.ProcessFulfilling(ctx)
	case StageStockLevels:
		return p.ProcessStockLevels(ctx)
	}
	return Report{Stage: stage}, fmt.Errorf("unknown fulfillment stage %q", stage)
}

// ProcessReady passes every ready shipment to the store's ship transition.
// The ID list is snapshotted first and each shipment re-read before mutation
// so shipments changed by other processes in the meantime are skipped.
func (p *Pipeline) ProcessReady(ctx context.Context) (Report, error) {
	ctx, span := p.startSpan(ctx, StageReady)
	defer span.End()
	report := p.begin(StageReady)
	logger := p.logger(StageReady)
	logger.Info().Msg("process ready start")

	if err := errors.Join(p.preflight(), p.requireShipments()); err != nil {
		return p.abort(ctx, span, report, err)
	}
	ids, err := p.Shipments.ListReadyShipmentIDs(ctx)
	if err != nil {
		return p.abort(ctx, span, report, fmt.Errorf("list ready shipments: %w", err))
	}

	for _, id := range ids {
		subject := id.String()
		outcome := p.runItem(ctx, subject, func(ctx context.Context) Outcome {
			shipment, err := p.Shipments.FindShipment(ctx, id)
			if errors.Is(err, ErrShipmentNotFound) {
				return skipped(subject, "", "shipment no longer exists")
			}
			if err != nil {
				return failed(subject, "", fmt.Errorf("load shipment: %w", err))
			}
			if shipment.State != StateReady {
				return skipped(subject, shipment.Number, "shipment no longer ready: "+string(shipment.State))
			}
			logger.Info().Str("shipment_id", subject).Str("shipment_number", shipment.Number).Msg("request to ship shipment")
			if err := p.Shipments.TransitionToShipped(ctx, &shipment); err != nil {
				return failed(subject, shipment.Number, fmt.Errorf("failed to ship: %w", err))
			}
			result := ResultShipped
			if shipment.State == StateFulfilling {
				result = ResultSubmitted
			}
			return Outcome{Subject: subject, Number: shipment.Number, Result: result}
		})
		p.record(ctx, &report, outcome)
	}
	return p.finish(ctx, span, report), nil
}

// ProcessFulfilling polls the provider for tracking data of every fulfilling
// shipment. Complete tracking ships the shipment, an incomplete answer cancels
// it for manual handling, and no answer leaves it for the next cycle.
func (p *Pipeline) ProcessFulfilling(ctx context.Context) (Report, error) {
	ctx, span := p.startSpan(ctx, StageFulfilling)
	defer span.End()
	report := p.begin(StageFulfilling)
	logger := p.logger(StageFulfilling)
	logger.Info().Msg("process fulfilling start")

	if err := errors.Join(p.preflight(), p.requireShipments()); err != nil {
		return p.abort(ctx, span, report, err)
	}
	shipments, err := p.Shipments.ListFulfillingShipments(ctx)
	if err != nil {
		return p.abort(ctx, span, report, fmt.Errorf("list fulfilling shipments: %w", err))
	}
	resolver := TrackingResolver{Registry: p.Registry}

	for i := range shipments {
		shipment := shipments[i]
		subject := shipment.ID.String()
		outcome := p.runItem(ctx, subject, func(ctx context.Context) Outcome {
			if shipment.State == StateShipped {
				return skipped(subject, shipment.Number, "already shipped")
			}
			tracking, err := resolver.Resolve(ctx, shipment)
			if errors.Is(err, ErrProviderUnavailable) {
				return skipped(subject, shipment.Number, "provider unavailable")
			}
			if err != nil {
				return failed(subject, shipment.Number, fmt.Errorf("fetch tracking data: %w", err))
			}
			logger.Info().Str("shipment_id", subject).Str("tracking_status", tracking.Status.String()).Msg("tracking info")

			switch tracking.Status {
			case TrackingFailed:
				logger.Warn().
					Str("shipment_id", subject).
					Str("shipment_number", shipment.Number).
					Msg("could not retrieve tracking information, canceling shipment")
				if err := p.Shipments.TransitionToCanceled(ctx, &shipment); err != nil {
					return failed(subject, shipment.Number, fmt.Errorf("cancel: %w", err))
				}
				return Outcome{Subject: subject, Number: shipment.Number, Result: ResultCanceled, Reason: "tracking information incomplete"}
			case TrackingComplete:
				record := tracking.Record
				logger.Info().Str("shipment_id", subject).Fields(record.Fields()).Msg("tracking information")
				if err := p.Shipments.SetTrackingFields(ctx, &shipment, record.ShipTime, record.TrackingString()); err != nil {
					return failed(subject, shipment.Number, fmt.Errorf("set tracking: %w", err))
				}
				if err := p.Shipments.TransitionToShipped(ctx, &shipment); err != nil {
					return failed(subject, shipment.Number, fmt.Errorf("failed to ship: %w", err))
				}
				return Outcome{Subject: subject, Number: shipment.Number, Result: ResultShipped, Reason: record.TrackingString()}
			default:
				return skipped(subject, shipment.Number, "no tracking data")
			}
		})
		p.record(ctx, &report, outcome)
	}
	return p.finish(ctx, span, report), nil
}

// ProcessStockLevels fetches stock levels for every known SKU in a single
// provider call and sets the on-hand count of each reported SKU at the default
// stock location. Unknown SKUs and missing stock items are recorded as failed
// outcomes and the remaining SKUs are still applied.
func (p *Pipeline) ProcessStockLevels(ctx context.Context) (Report, error) {
	ctx, span := p.startSpan(ctx, StageStockLevels)
	defer span.End()
	report := p.begin(StageStockLevels)
	logger := p.logger(StageStockLevels)
	logger.Info().Msg("process stock levels start")

	if err := p.preflight(); err != nil {
		return p.abort(ctx, span, report, err)
	}
	if p.Stock == nil {
		return p.abort(ctx, span, report, &ConfigError{Field: "stock_store", Err: errors.New("not configured")})
	}
	skus, err := p.Stock.ListAllSKUs(ctx)
	if err != nil {
		return p.abort(ctx, span, report, fmt.Errorf("list skus: %w", err))
	}
	location, err := p.Stock.FindStockLocationByName(ctx, DefaultStockLocation)
	if errors.Is(err, ErrStockLocationNotFound) {
		return p.abort(ctx, span, report, &ConfigError{Env: p.Registry.cfg.Env, Field: "stock_location", Err: ErrMissingDefaultLocation})
	}
	if err != nil {
		return p.abort(ctx, span, report, fmt.Errorf("find default stock location: %w", err))
	}

	provider, err := p.Registry.GetProvider(ctx, nil)
	if errors.Is(err, ErrProviderUnavailable) {
		report.Skipped = "provider unavailable"
		logger.Warn().Err(err).Msg("skipping stock levels")
		return p.finish(ctx, span, report), nil
	}
	if err != nil {
		return p.abort(ctx, span, report, err)
	}

	var levels *StockLevels
	fetch := p.runItem(ctx, "fetch_stock_levels", func(ctx context.Context) Outcome {
		err := observeCall(ctx, report.Adapter, "fetch_stock_levels", func(ctx context.Context) error {
			var callErr error
			levels, callErr = provider.FetchStockLevels(ctx, skus)
			return callErr
		})
		if err != nil {
			return failed("fetch_stock_levels", "", err)
		}
		return Outcome{}
	})
	if fetch.Result == ResultFailed {
		p.record(ctx, &report, fetch)
		return p.finish(ctx, span, report), nil
	}
	if levels == nil {
		report.Skipped = "provider returned no stock levels"
		return p.finish(ctx, span, report), nil
	}

	reported := make([]string, 0, len(levels.Levels))
	for sku := range levels.Levels {
		reported = append(reported, sku)
	}
	sort.Strings(reported)

	for _, sku := range reported {
		count := levels.Levels[sku]
		outcome := p.runItem(ctx, sku, func(ctx context.Context) Outcome {
			variant, err := p.Stock.FindVariantBySKU(ctx, sku)
			if err != nil {
				return failed(sku, "", fmt.Errorf("find variant: %w", err))
			}
			if err := p.Stock.SetOnHandCount(ctx, variant, location, count); err != nil {
				return failed(sku, "", fmt.Errorf("set count on hand: %w", err))
			}
			logger.Info().Str("sku", sku).Str("variant_id", variant.ID.String()).Int("count_on_hand", count).Msg("variant has a new stock level")
			return Outcome{Subject: sku, Result: ResultStockSet, Reason: "count_on_hand=" + strconv.Itoa(count)}
		})
		p.record(ctx, &report, outcome)
	}
	return p.finish(ctx, span, report), nil
}

func (p *Pipeline) preflight() error {
	if p.Registry == nil {
		return &ConfigError{Field: "registry", Err: errors.New("not configured")}
	}
	_, err := p.Registry.Adapter()
	return err
}

func (p *Pipeline) requireShipments() error {
	if p.Shipments == nil {
		return &ConfigError{Field: "shipment_store", Err: errors.New("not configured")}
	}
	return nil
}

// runItem executes fn and converts a panic into a failed outcome so a broken
// provider or store call is contained to the item that triggered it.
func (p *Pipeline) runItem(ctx context.Context, subject string, fn func(context.Context) Outcome) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failed(subject, "", fmt.Errorf("panic: %v", r))
		}
	}()
	return fn(ctx)
}

func (p *Pipeline) record(ctx context.Context, report *Report, o Outcome) {
	report.add(o)
	obs.ObserveFulfillmentItem(string(report.Stage), string(o.Result))
	logger := p.logger(report.Stage)
	switch o.Result {
	case ResultFailed:
		logger.Error().Err(o.Err).Str("subject", o.Subject).Str("number", o.Number).Msg("item failed")
		trace.SpanFromContext(ctx).RecordError(o.Err, trace.WithAttributes(attribute.String("fulfillment.subject", o.Subject)))
	case ResultSkipped:
		logger.Debug().Str("subject", o.Subject).Str("reason", o.Reason).Msg("item skipped")
	}
}

func (p *Pipeline) begin(stage Stage) Report {
	report := Report{Stage: stage, StartedAt: p.now()}
	if p.Registry != nil {
		report.Adapter, _ = p.Registry.Adapter()
	}
	return report
}

func (p *Pipeline) abort(ctx context.Context, span trace.Span, report Report, err error) (Report, error) {
	report.FinishedAt = p.now()
	span.RecordError(err)
	p.logger(report.Stage).Error().Err(err).Msg("fulfillment run aborted")
	p.notify(ctx, err, map[string]string{"stage": string(report.Stage), "subject": "run"})
	return report, err
}

func (p *Pipeline) finish(ctx context.Context, span trace.Span, report Report) Report {
	report.FinishedAt = p.now()
	obs.ObserveFulfillmentRun(string(report.Stage), report.Duration())
	for _, o := range report.Failures() {
		p.notify(ctx, o.Err, map[string]string{
			"stage":   string(report.Stage),
			"subject": o.Subject,
			"number":  o.Number,
		})
	}
	counts := report.Counts()
	span.SetAttributes(
		attribute.Int("fulfillment.items", len(report.Outcomes)),
		attribute.Int("fulfillment.failed", counts[ResultFailed]),
	)
	evt := p.logger(report.Stage).Info().
		Str("adapter", report.Adapter).
		Int("items", len(report.Outcomes)).
		Int64("duration_ms", report.Duration().Milliseconds())
	for result, n := range counts {
		evt = evt.Int(string(result), n)
	}
	if report.Skipped != "" {
		evt = evt.Str("skipped", report.Skipped)
	}
	evt.Msg("fulfillment_run")
	return report
}

// notify forwards err to the reporter; a misbehaving reporter is logged and ignored.
func (p *Pipeline) notify(ctx context.Context, err error, fields map[string]string) {
	if p.Reporter == nil || err == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Error().Interface("panic", r).Msg("error reporter panicked")
		}
	}()
	p.Reporter.Notify(ctx, err, fields)
}

func (p *Pipeline) startSpan(ctx context.Context, stage Stage) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("fulfillment.Pipeline").Start(ctx, "Pipeline."+string(stage))
	span.SetAttributes(attribute.String("fulfillment.stage", string(stage)))
	return ctx, span
}

func (p *Pipeline) logger(stage Stage) *zerolog.Logger {
	l := p.Logger.With().Str("component", "fulfillment").Str("stage", string(stage)).Logger()
	return &l
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}
