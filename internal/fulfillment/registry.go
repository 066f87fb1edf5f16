package fulfillment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-fulfillment/internal/obs"
)

const adapterSuffix = "_fulfillment"

// ProviderConfig is the fulfillment block selected for the running environment.
type ProviderConfig struct {
	Env     string
	Adapter string
	Options Options
}

// Registry resolves the configured adapter to a provider through a static
// factory map populated at process start.
type Registry struct {
	mu        sync.RWMutex
	cfg       ProviderConfig
	factories map[string]Factory
	logger    zerolog.Logger
}

// NewRegistry constructs a registry bound to cfg. Factories are added with Register.
func NewRegistry(cfg ProviderConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		factories: make(map[string]Factory),
		logger:    logger.With().Str("component", "fulfillment.registry").Logger(),
	}
}

// AdapterKey normalises an adapter name into its registry key, e.g. "Acme",
// "acme-fulfillment" and "acme_fulfillment" all map to "acme_fulfillment".
func AdapterKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return ""
	}
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	key = strings.TrimSuffix(key, adapterSuffix)
	if key == "" {
		return ""
	}
	return key + adapterSuffix
}

// TypeName returns the display name of the provider type for an adapter,
// e.g. "acme" becomes "AcmeFulfillment".
func TypeName(name string) string {
	key := AdapterKey(name)
	if key == "" {
		return ""
	}
	var b strings.Builder
	for _, part := range strings.Split(key, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// Register binds a factory to an adapter name. Registering the same name again
// replaces the previous factory.
func (r *Registry) Register(adapter string, factory Factory) {
	key := AdapterKey(adapter)
	if key == "" || factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
}

// Adapters returns the sorted keys of all registered adapters.
func (r *Registry) Adapters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Adapter returns the normalised configured adapter or a ConfigError when none is set.
func (r *Registry) Adapter() (string, error) {
	if r == nil {
		return "", &ConfigError{Field: "adapter", Err: ErrMissingAdapter}
	}
	key := AdapterKey(r.cfg.Adapter)
	if key == "" {
		return "", &ConfigError{Env: r.cfg.Env, Field: "adapter", Err: ErrMissingAdapter}
	}
	return key, nil
}

// Validate checks that the configured adapter is set and registered without
// constructing a provider.
func (r *Registry) Validate() error {
	key, err := r.Adapter()
	if err != nil {
		return err
	}
	r.mu.RLock()
	_, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s is not registered", ErrProviderUnavailable, TypeName(key))
	}
	return nil
}

// GetProvider constructs the configured provider scoped to shipment, which may
// be nil for operations without shipment context. A missing adapter yields a
// ConfigError; an adapter without a registered factory yields
// ErrProviderUnavailable and callers are expected to skip the operation.
func (r *Registry) GetProvider(ctx context.Context, shipment *Shipment) (Provider, error) {
	key, err := r.Adapter()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		r.loggerFor(ctx).Error().Str("adapter", key).Str("provider", TypeName(key)).Msg("cannot load fulfillment provider")
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, TypeName(key))
	}
	provider, err := factory(r.cfg.Options, shipment)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", TypeName(key), err)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: %s factory returned no provider", ErrProviderUnavailable, TypeName(key))
	}
	return provider, nil
}

// Fulfill submits a single shipment to the configured provider.
func (r *Registry) Fulfill(ctx context.Context, shipment Shipment) error {
	provider, err := r.GetProvider(ctx, &shipment)
	if err != nil {
		return err
	}
	adapter, _ := r.Adapter()
	var result FulfillResult
	err = observeCall(ctx, adapter, "fulfill", func(ctx context.Context) error {
		var callErr error
		result, callErr = provider.Fulfill(ctx)
		return callErr
	})
	if err != nil {
		return err
	}
	if !result.Accepted {
		msg := strings.TrimSpace(result.Message)
		if msg == "" {
			msg = "no reason given"
		}
		return fmt.Errorf("%w: %s", ErrFulfillmentRejected, msg)
	}
	r.loggerFor(ctx).Info().
		Str("shipment_id", shipment.ID.String()).
		Str("shipment_number", shipment.Number).
		Str("reference", result.Reference).
		Msg("shipment submitted to provider")
	return nil
}

func (r *Registry) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &r.logger
}

// observeCall wraps a provider call with a span and call metrics.
func observeCall(ctx context.Context, adapter, op string, fn func(context.Context) error) (err error) {
	ctx, span := otel.Tracer("fulfillment.Provider").Start(ctx, "Provider."+op)
	defer span.End()
	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
			span.RecordError(err)
		}
		span.SetAttributes(
			attribute.String("fulfillment.adapter", adapter),
			attribute.String("fulfillment.result", result),
		)
		obs.ObserveProviderCall(adapter, op, result, time.Since(start))
	}()
	return fn(ctx)
}
