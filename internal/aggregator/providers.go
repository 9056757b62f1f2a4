package aggregator

import (
	"log/slog"

	"github.com/couchcryptid/quake-data-etl/internal/adapter/afad"
	"github.com/couchcryptid/quake-data-etl/internal/adapter/kandilli"
	"github.com/couchcryptid/quake-data-etl/internal/config"
)

// NewProviders builds the provider clients for the configured upstreams, in
// configuration order. Unknown names are logged and skipped.
func NewProviders(cfgs []config.ProviderConfig, logger *slog.Logger) []Provider {
	providers := make([]Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		switch pc.Name {
		case config.ProviderKandilli:
			providers = append(providers, kandilli.NewClient(pc.URL, pc.Timeout, logger))
		case config.ProviderAFAD:
			providers = append(providers, afad.NewClient(pc.URL, pc.Timeout, logger))
		default:
			logger.Warn("unknown provider skipped", "provider", pc.Name)
			continue
		}
		logger.Debug("provider registered", "provider", pc.Name, "url", pc.URL, "timeout", pc.Timeout)
	}
	return providers
}
