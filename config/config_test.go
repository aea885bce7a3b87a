package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigTOML = `
[db]
host = "localhost"
port = 3306
database = "ticket_indexer"
username = "indexer"
password = "secret"

[logger]
level = "DEBUG"
console = true

[chain]
node_url = "https://api.devnet.solana.com"
requests_per_second = 20
burst = 5

[indexer]
program_address = "HXtBm8XZbxaTt41uqaKhwUAa6Z1aPyvJdsZVENiWsetg"
batch_size = 50
workers = 8

[reconciliation]
enabled = true
interval_sec = 600
auto_resolve = true

[retry.rpc]
max_retries = 7
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseConfigFile(t *testing.T) {
	cfg := newConfig()
	err := ParseConfigFile(cfg, writeConfig(t, testConfigTOML))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, 3306, cfg.DB.Port)
	assert.Equal(t, "DEBUG", cfg.Logger.Level)
	assert.Equal(t, 20.0, cfg.Chain.RequestsPerSecond)
	assert.Equal(t, 50, cfg.Indexer.BatchSize)
	assert.Equal(t, 8, cfg.Indexer.Workers)
	assert.True(t, cfg.Reconciliation.AutoResolve)
	assert.Equal(t, 7, cfg.Retry.RPC.MaxRetries)

	// defaults survive fields that the file does not set
	assert.Equal(t, DefaultPollMillis, cfg.Indexer.PollMillis)
	assert.Equal(t, DefaultReconciliationBatchSize, cfg.Reconciliation.BatchSize)
	assert.Equal(t, DefaultCommitment, cfg.Chain.Commitment)
	assert.Equal(t, DefaultListenAddress, cfg.Server.ListenAddress)

	require.NoError(t, cfg.Validate())
}

func TestParseConfigFileMissing(t *testing.T) {
	cfg := newConfig()
	err := ParseConfigFile(cfg, filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestReadEnvOverrides(t *testing.T) {
	cfg := newConfig()
	require.NoError(t, ParseConfigFile(cfg, writeConfig(t, testConfigTOML)))

	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PASSWORD", "from-env")
	t.Setenv("CHAIN_NODE_URL", "https://rpc.example.org")

	require.NoError(t, ReadEnv(cfg))
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, "from-env", cfg.DB.Password)
	assert.Equal(t, "https://rpc.example.org", cfg.Chain.NodeURL)
	assert.Equal(t, "ticket_indexer", cfg.DB.Database)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TICKET_INDEXER_TEST_VAR=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TICKET_INDEXER_TEST_VAR") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("TICKET_INDEXER_TEST_VAR"))

	// missing files are ignored
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	cfg := newConfig()
	require.Error(t, cfg.Validate(), "node url is required")

	cfg.Chain.NodeURL = "ftp://example.org"
	require.Error(t, cfg.Validate())

	cfg.Chain.NodeURL = "https://example.org"
	require.NoError(t, cfg.Validate())

	cfg.Indexer.BatchSize = 5000
	require.Error(t, cfg.Validate())
}

func TestFullNodeURL(t *testing.T) {
	c := ChainConfig{NodeURL: "https://rpc.example.org/path", APIKey: "k123"}
	u, err := c.FullNodeURL()
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.example.org/path?api-key=k123", u.String())
}

func TestConfigCallback(t *testing.T) {
	var cc ConfigCallback[int]
	var got []int
	cc.AddCallback(func(v int) { got = append(got, v) })
	cc.AddCallback(func(v int) { got = append(got, v*10) })

	cc.Call(3)
	assert.Equal(t, []int{3, 30}, got)
}
