package aggregator

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-data-etl/internal/config"
	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

func TestNewProviders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	providers := NewProviders([]config.ProviderConfig{
		{Name: config.ProviderAFAD, URL: config.DefaultAFADURL, Timeout: time.Second},
		{Name: "usgs", URL: "http://example.invalid"},
		{Name: config.ProviderKandilli, URL: config.DefaultKandilliURL, Timeout: time.Second},
	}, logger)

	require.Len(t, providers, 2)
	assert.Equal(t, domain.SourceAFAD, providers[0].Name())
	assert.Equal(t, domain.SourceKandilli, providers[1].Name())
}

func TestNewProviders_Empty(t *testing.T) {
	providers := NewProviders(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NotNil(t, providers)
	assert.Empty(t, providers)
}
