package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerPort)
	assert.Equal(t, 5*time.Second, cfg.GeoTimeout)
	assert.Equal(t, 3*time.Second, cfg.PublicIPTimeout)
	assert.Equal(t, []string{"/static/", "/admin/", "/api/"}, cfg.ExcludedPrefixes)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("GEO_TIMEOUT", "2s")
	t.Setenv("TRACKING_EXCLUDED_PREFIXES", " /assets/ , ,/internal/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerPort)
	assert.Equal(t, 2*time.Second, cfg.GeoTimeout)
	assert.Equal(t, []string{"/assets/", "/internal/"}, cfg.ExcludedPrefixes)
}
