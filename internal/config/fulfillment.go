package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
)

// fulfillmentSection is one environment block of fulfillment.yml:
//
//	production:
//	  adapter: acme
//	  options:
//	    base_url: https://fulfil.example.com
type fulfillmentSection struct {
	Adapter string         `yaml:"adapter" validate:"required,max=64"`
	Options map[string]any `yaml:"options"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFulfillment reads the env-keyed fulfillment file at path and returns the
// block for appEnv. A missing block or adapter is a *fulfillment.ConfigError.
func LoadFulfillment(path, appEnv string) (fulfillment.ProviderConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fulfillment.ProviderConfig{}, fmt.Errorf("read fulfillment config: %w", err)
	}
	return ParseFulfillment(bytes.NewReader(raw), appEnv)
}

// ParseFulfillment decodes an env-keyed fulfillment document from r.
func ParseFulfillment(r io.Reader, appEnv string) (fulfillment.ProviderConfig, error) {
	appEnv = strings.TrimSpace(appEnv)
	sections := map[string]fulfillmentSection{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sections); err != nil && !errors.Is(err, io.EOF) {
		return fulfillment.ProviderConfig{}, fmt.Errorf("decode fulfillment config: %w", err)
	}

	section, ok := sections[appEnv]
	if !ok {
		return fulfillment.ProviderConfig{}, &fulfillment.ConfigError{
			Env:   appEnv,
			Field: "fulfillment",
			Err:   fmt.Errorf("no block for environment %q", appEnv),
		}
	}
	section.Adapter = strings.TrimSpace(section.Adapter)
	if err := validate.Struct(section); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Adapter" && verrs[0].Tag() == "required" {
			err = fulfillment.ErrMissingAdapter
		}
		return fulfillment.ProviderConfig{}, &fulfillment.ConfigError{Env: appEnv, Field: "adapter", Err: err}
	}

	return fulfillment.ProviderConfig{
		Env:     appEnv,
		Adapter: section.Adapter,
		Options: fulfillment.Options(section.Options),
	}, nil
}
