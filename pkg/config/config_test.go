package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfig struct {
	Addr     string `yaml:"addr"`
	Interval string `yaml:"interval"`
}

func TestLoad(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`addr: "10.26.104.14:8100"
interval: "500ms"
`), 0o600))

		var conf fakeConfig
		require.NoError(t, Load(path, &conf, false))
		assert.Equal(t, "10.26.104.14:8100", conf.Addr)
		assert.Equal(t, "500ms", conf.Interval)
	})

	t.Run("expand env", func(t *testing.T) {
		t.Setenv("NODE_ADDR", "10.26.104.14:8100")

		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`addr: "${NODE_ADDR}"
interval: "${NODE_INTERVAL:1s}"
`), 0o600))

		var conf fakeConfig
		require.NoError(t, Load(path, &conf, true))
		assert.Equal(t, "10.26.104.14:8100", conf.Addr)
		assert.Equal(t, "1s", conf.Interval)
	})

	t.Run("unknown field", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`foo: "bar"
`), 0o600))

		var conf fakeConfig
		assert.Error(t, Load(path, &conf, false))
	})

	t.Run("not found", func(t *testing.T) {
		var conf fakeConfig
		assert.Error(t, Load("notfound.yaml", &conf, false))
	})
}
