package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"agentchat/internal/providers"
	"agentchat/internal/providers/gemini"
	"agentchat/internal/providers/openai_compat"
	"agentchat/internal/providers/remote"
)

type BuildOptions struct {
	Kind        string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Headers     map[string]string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration

	// Gemini only.
	Gemini gemini.Config
	Images gemini.ImageSink
	Logger zerolog.Logger
}

func Build(ctx context.Context, opts BuildOptions) (providers.Provider, error) {
	switch opts.Kind {
	case "gemini", "google":
		if opts.Images == nil {
			return nil, fmt.Errorf("gemini agent needs an image sink")
		}
		cfg := opts.Gemini
		if cfg.Model == "" {
			cfg.Model = opts.Model
		}
		if cfg.Temperature == 0 {
			cfg.Temperature = opts.Temperature
		}
		return gemini.New(ctx, opts.APIKey, cfg, opts.Images, opts.Logger)

	case "openai_compat", "openai-compatible", "openai":
		return openai_compat.New(openai_compat.Config{
			BaseURL:     opts.BaseURL,
			APIKey:      opts.APIKey,
			Model:       opts.Model,
			Temperature: opts.Temperature,
			Headers:     opts.Headers,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	case "remote", "custom_http", "custom-http":
		return remote.New(remote.Config{
			URL:         opts.BaseURL,
			APIKey:      opts.APIKey,
			Headers:     opts.Headers,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported provider kind %q", opts.Kind)
	}
}
