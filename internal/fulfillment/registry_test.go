package fulfillment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
)

type acmeFulfillment struct {
	shipment *fulfillment.Shipment
}

func (a *acmeFulfillment) Fulfill(context.Context) (fulfillment.FulfillResult, error) {
	return fulfillment.FulfillResult{Accepted: true}, nil
}

func (a *acmeFulfillment) FetchTrackingData(context.Context) (*fulfillment.TrackingData, error) {
	return nil, nil
}

func (a *acmeFulfillment) FetchStockLevels(context.Context, []string) (*fulfillment.StockLevels, error) {
	return nil, nil
}

func TestAdapterKeyAndTypeName(t *testing.T) {
	cases := map[string]string{
		"acme":             "acme_fulfillment",
		"Acme":             "acme_fulfillment",
		"acme_fulfillment": "acme_fulfillment",
		"acme-fulfillment": "acme_fulfillment",
		"big box":          "big_box_fulfillment",
		"  ":               "",
	}
	for in, want := range cases {
		require.Equal(t, want, fulfillment.AdapterKey(in), in)
	}
	require.Equal(t, "AcmeFulfillment", fulfillment.TypeName("acme"))
	require.Equal(t, "BigBoxFulfillment", fulfillment.TypeName("big-box"))
	require.Equal(t, "", fulfillment.TypeName(""))
}

func TestGetProviderResolvesRegisteredAdapter(t *testing.T) {
	reg := fulfillment.NewRegistry(fulfillment.ProviderConfig{Env: "production", Adapter: "acme"}, zerolog.Nop())
	reg.Register("AcmeFulfillment", func(_ fulfillment.Options, shipment *fulfillment.Shipment) (fulfillment.Provider, error) {
		return &acmeFulfillment{shipment: shipment}, nil
	})

	shipment := &fulfillment.Shipment{ID: uuid.New(), Number: "H100"}
	provider, err := reg.GetProvider(context.Background(), shipment)
	require.NoError(t, err)
	acme, ok := provider.(*acmeFulfillment)
	require.True(t, ok)
	require.Same(t, shipment, acme.shipment)
	require.NoError(t, reg.Validate())
	require.Equal(t, []string{"acme_fulfillment"}, reg.Adapters())
}

func TestGetProviderMissingAdapterFailsBeforeConstruction(t *testing.T) {
	for _, adapter := range []string{"", "   "} {
		constructed := 0
		reg := fulfillment.NewRegistry(fulfillment.ProviderConfig{Env: "staging", Adapter: adapter}, zerolog.Nop())
		reg.Register(adapter+"x", func(fulfillment.Options, *fulfillment.Shipment) (fulfillment.Provider, error) {
			constructed++
			return &acmeFulfillment{}, nil
		})

		_, err := reg.GetProvider(context.Background(), nil)
		require.Error(t, err)
		require.True(t, fulfillment.IsConfigError(err))
		require.ErrorIs(t, err, fulfillment.ErrMissingAdapter)
		require.Contains(t, err.Error(), "staging")
		require.Zero(t, constructed)
	}
}

func TestGetProviderUnknownAdapterIsUnavailable(t *testing.T) {
	reg := fulfillment.NewRegistry(fulfillment.ProviderConfig{Adapter: "acme"}, zerolog.Nop())

	provider, err := reg.GetProvider(context.Background(), nil)
	require.Nil(t, provider)
	require.ErrorIs(t, err, fulfillment.ErrProviderUnavailable)
	require.False(t, fulfillment.IsConfigError(err))
	require.Contains(t, err.Error(), "AcmeFulfillment")
	require.ErrorIs(t, reg.Validate(), fulfillment.ErrProviderUnavailable)
}

func TestGetProviderWrapsFactoryError(t *testing.T) {
	boom := errors.New("bad credentials")
	reg := fulfillment.NewRegistry(fulfillment.ProviderConfig{Adapter: "acme"}, zerolog.Nop())
	reg.Register("acme", func(fulfillment.Options, *fulfillment.Shipment) (fulfillment.Provider, error) {
		return nil, boom
	})

	_, err := reg.GetProvider(context.Background(), nil)
	require.ErrorIs(t, err, boom)

	reg.Register("acme", func(fulfillment.Options, *fulfillment.Shipment) (fulfillment.Provider, error) {
		return nil, nil
	})
	_, err = reg.GetProvider(context.Background(), nil)
	require.ErrorIs(t, err, fulfillment.ErrProviderUnavailable)
}

func TestRegistryFulfill(t *testing.T) {
	fake := &fakeProvider{}
	reg := newRegistry("fake", fake)
	shipment := fulfillment.Shipment{ID: uuid.New(), Number: "H1", State: fulfillment.StateReady}

	require.NoError(t, reg.Fulfill(context.Background(), shipment))
	require.Equal(t, []string{"H1"}, fake.fulfilled)

	fake.reject = true
	err := reg.Fulfill(context.Background(), shipment)
	require.ErrorIs(t, err, fulfillment.ErrFulfillmentRejected)
	require.Contains(t, err.Error(), "out of stock")
}

func TestOptionsAccessors(t *testing.T) {
	opts := fulfillment.Options{
		"base_url": " https://acme.test ",
		"timeout":  15,
		"ratio":    2.0,
		"nested":   map[string]any{"A": 3},
	}
	require.Equal(t, "https://acme.test", opts.String("base_url", ""))
	require.Equal(t, "fallback", opts.String("missing", "fallback"))
	require.Equal(t, 15, opts.Int("timeout", 0))
	require.Equal(t, 2, opts.Int("ratio", 0))
	require.Equal(t, 7, opts.Int("base_url", 7))
	require.Equal(t, 3, opts.Map("nested").Int("A", 0))
	require.Nil(t, opts.Map("missing"))

	var empty fulfillment.Options
	require.Equal(t, "x", empty.String("k", "x"))
}

func TestParseStage(t *testing.T) {
	stage, err := fulfillment.ParseStage("Stock-Levels")
	require.NoError(t, err)
	require.Equal(t, fulfillment.StageStockLevels, stage)

	stage, err = fulfillment.ParseStage("stock")
	require.NoError(t, err)
	require.Equal(t, fulfillment.StageStockLevels, stage)

	_, err = fulfillment.ParseStage("returns")
	require.Error(t, err)
	require.Len(t, fulfillment.Stages(), 3)
}
