package timeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/soundprediction/go-timeline/pkg/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestExpandCommand(t *testing.T) {
	out, err := run(t, "expand", "2024-02-28T23:00:00Z", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-02-28T00:00:00",
		"2024-02-29T00:00:00",
		"2024-03-01T00:00:00",
	}, strings.Fields(out))

	out, err = run(t, "expand", "2024-07-04")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-04T00:00:00\n", out)

	_, err = run(t, "expand", "2024-07-04", "2024-07-01")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestValidateServerConfig(t *testing.T) {
	cfg, err := config.LoadFrom(viper.New())
	require.NoError(t, err)
	assert.NoError(t, validateServerConfig(cfg))

	cfg.Server.Port = 0
	assert.Error(t, validateServerConfig(cfg))

	cfg.Server.Port = 8080
	cfg.Database.URI = ""
	assert.Error(t, validateServerConfig(cfg))

	cfg.Database.Driver = "memory"
	assert.NoError(t, validateServerConfig(cfg))
}

func TestNewAppMemory(t *testing.T) {
	cfg, err := config.LoadFrom(viper.New())
	require.NoError(t, err)
	cfg.Database.Driver = "memory"
	cfg.Cache.Enabled = true
	cfg.Telemetry.DuckDBPath = ""

	a, err := newApp(cfg, false)
	require.NoError(t, err)
	assert.NotNil(t, a.client)
	assert.Nil(t, a.telemetry)
	require.NoError(t, a.close(t.Context()))
}
