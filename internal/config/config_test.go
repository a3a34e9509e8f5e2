package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizbattle/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Prefix string
	}

	Battle struct {
		Points      int
		SettleDelay time.Duration
	}
}

func TestLoad(t *testing.T) {
	file := writeFile(t, "config.yaml", `
http:
  port: 8080
redis:
  addrs:
    - localhost:6379
battle:
  settleDelay: 2s
`)

	var c testConfig
	c.Redis.Prefix = "default"
	c.Battle.Points = 10
	c.Battle.SettleDelay = time.Second

	t.Setenv("HTTP_PORT", "9090")

	require.NoError(t, config.Load(file, &c))

	assert.Equal(t, int32(9090), c.HTTP.Port, "env should override the file")
	assert.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
	assert.Equal(t, "default", c.Redis.Prefix, "default should be kept")
	assert.Equal(t, 10, c.Battle.Points)
	assert.Equal(t, 2*time.Second, c.Battle.SettleDelay, "file should override the default")
}

func TestLoad_MissingFile(t *testing.T) {
	var c testConfig
	err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), &c)
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	file := writeFile(t, ".env", "QUIZBATTLE_TEST_A=from-file\nQUIZBATTLE_TEST_B=from-file\n")

	t.Setenv("QUIZBATTLE_TEST_B", "from-env")
	t.Cleanup(func() { os.Unsetenv("QUIZBATTLE_TEST_A") })

	require.NoError(t, config.LoadEnv(filepath.Join(t.TempDir(), "missing.env"), file))

	assert.Equal(t, "from-file", os.Getenv("QUIZBATTLE_TEST_A"))
	assert.Equal(t, "from-env", os.Getenv("QUIZBATTLE_TEST_B"), "existing variables should win")
}

func writeFile(t *testing.T, name, content string) string {
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}
