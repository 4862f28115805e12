package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ArkLabsHQ/deadman/internal/config"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		datadir := t.TempDir()
		t.Setenv("DEADMAN_DATADIR", datadir)

		cfg, err := config.LoadConfig()
		require.NoError(t, err)
		require.Equal(t, datadir, cfg.Datadir)
		require.Equal(t, "regtest", cfg.Network)
		require.Equal(t, &chaincfg.RegressionNetParams, cfg.NetworkParams())
		require.Equal(t, "http://localhost:3000", cfg.EsploraURL)
		require.Equal(t, 10, cfg.Retry)
		require.Equal(t, 100*time.Second, cfg.RequestTimeout())
		require.Equal(t, 5.0, cfg.FeeRate)
		require.Equal(t, uint32(1000), cfg.Timelock)
		require.Equal(t, uint32(20), cfg.GapLimit)
		require.Equal(t, uint32(7001), cfg.HTTPPort)
		require.Equal(t, uint32(4), cfg.LogLevel)
		require.Equal(t, filepath.Join(datadir, "regtest", "db"), cfg.DbDir())
		require.Nil(t, cfg.UnlockerService())
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv("DEADMAN_DATADIR", t.TempDir())
		t.Setenv("DEADMAN_NETWORK", "testnet")
		t.Setenv("DEADMAN_FEE_RATE", "2.5")
		t.Setenv("DEADMAN_TIMELOCK", "144")
		t.Setenv("DEADMAN_PROXY", "socks5://127.0.0.1:9050")
		t.Setenv("DEADMAN_UNLOCKER_TYPE", "env")
		t.Setenv("DEADMAN_UNLOCKER_PASSWORD", "alpha")

		cfg, err := config.LoadConfig()
		require.NoError(t, err)
		require.Equal(t, &chaincfg.TestNet3Params, cfg.NetworkParams())
		require.Equal(t, "https://blockstream.info/testnet/api", cfg.EsploraURL)
		require.Equal(t, 2.5, cfg.FeeRate)
		require.Equal(t, uint32(144), cfg.Timelock)
		require.Equal(t, "socks5://127.0.0.1:9050", cfg.Proxy)
		require.NotNil(t, cfg.UnlockerService())
	})

	t.Run("file unlocker", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "passphrase")
		require.NoError(t, os.WriteFile(path, []byte("beta"), 0600))
		t.Setenv("DEADMAN_DATADIR", dir)
		t.Setenv("DEADMAN_UNLOCKER_TYPE", "file")
		t.Setenv("DEADMAN_UNLOCKER_FILE_PATH", path)

		cfg, err := config.LoadConfig()
		require.NoError(t, err)
		require.NotNil(t, cfg.UnlockerService())
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			key   string
			value string
		}{
			{"DEADMAN_NETWORK", "liquid"},
			{"DEADMAN_ESPLORA_URL", "localhost"},
			{"DEADMAN_PROXY", "http://127.0.0.1:9050"},
			{"DEADMAN_RETRY", "-1"},
			{"DEADMAN_TIMEOUT", "0"},
			{"DEADMAN_FEE_RATE", "-1"},
			{"DEADMAN_TIMELOCK", "0"},
			{"DEADMAN_TIMELOCK", "65536"},
			{"DEADMAN_UNLOCKER_TYPE", "vault"},
			{"DEADMAN_UNLOCKER_TYPE", "env"},
		}
		for _, f := range fixtures {
			t.Run(f.key, func(t *testing.T) {
				t.Setenv("DEADMAN_DATADIR", t.TempDir())
				t.Setenv(f.key, f.value)
				_, err := config.LoadConfig()
				require.Error(t, err)
			})
		}
	})
}
