package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultAirdropConfig(t *testing.T) {
	cfg := NewDefaultAirdropConfig()
	assert.Equal(t, DefaultOutputDir, cfg.OutputDir)
	assert.Equal(t, DefaultTreeFormat, cfg.TreeFormat)
	assert.Equal(t, DefaultTokenDecimals, cfg.TokenDecimals)
	assert.Equal(t, PersistenceTypeNone, cfg.PersistenceType)
	require.NoError(t, cfg.Validate())
}

func TestAirdropConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *AirdropConfig)
		wantErr string
	}{
		{"unknown format", func(c *AirdropConfig) { c.TreeFormat = "sha256" }, "treeFormat"},
		{"negative workers", func(c *AirdropConfig) { c.Workers = -1 }, "workers"},
		{"too many decimals", func(c *AirdropConfig) { c.TokenDecimals = 78 }, "tokenDecimals"},
		{"badger without path", func(c *AirdropConfig) { c.PersistenceType = PersistenceTypeBadger }, "badgerPath"},
		{"redis without address", func(c *AirdropConfig) { c.PersistenceType = PersistenceTypeRedis }, "redis.address"},
		{"redis bad db", func(c *AirdropConfig) {
			c.PersistenceType = PersistenceTypeRedis
			c.Redis = &RedisConfig{Address: "localhost:6379", DB: 16}
		}, "redis.db"},
		{"unknown persistence", func(c *AirdropConfig) { c.PersistenceType = "postgres" }, "persistenceType"},
		{"duplicate category prefix", func(c *AirdropConfig) {
			c.Categories = []CategoryConfig{{Name: "a", Prefix: "x"}, {Name: "b", Prefix: "x"}}
		}, "categories[1].prefix"},
		{"category without name", func(c *AirdropConfig) {
			c.Categories = []CategoryConfig{{Prefix: "x"}}
		}, "categories[0].name"},
		{"bad screening url", func(c *AirdropConfig) {
			c.Screening = &ScreeningConfig{BaseURL: "ftp://example.com"}
		}, "screening.baseUrl"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultAirdropConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestAirdropConfig_ValidateAggregatesErrors(t *testing.T) {
	cfg := NewDefaultAirdropConfig()
	cfg.TreeFormat = "nope"
	cfg.Workers = -3

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "treeFormat")
	assert.Contains(t, err.Error(), "workers")
}

func TestAirdropConfig_ValidateScreening(t *testing.T) {
	cfg := NewDefaultAirdropConfig()
	require.Error(t, cfg.ValidateScreening())

	cfg.Screening = &ScreeningConfig{APIKey: "key"}
	require.NoError(t, cfg.ValidateScreening())
}

func TestLoadAirdropConfig_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
rawAirdropDataPath: data/raw.csv
outputDir: out
treeFormat: tagged-v1
categories:
  - name: reflexer
    prefix: reflexer
    groups: [reflexer-holders]
  - name: op-ecosystem
    prefix: op
persistenceType: redis
redis:
  address: localhost:6379
  db: 3
screening:
  apiKey: secret
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadAirdropConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "data/raw.csv", cfg.RawAirdropDataPath)
	assert.Equal(t, "tagged-v1", cfg.TreeFormat)
	assert.Equal(t, DefaultTokenDecimals, cfg.TokenDecimals)
	require.Len(t, cfg.Categories, 2)
	assert.Equal(t, "op", cfg.Categories[1].Prefix)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, DefaultChainalysisBaseURL, cfg.Screening.BaseURL)
	assert.Equal(t, DefaultChainalysisRate, cfg.Screening.RatePerSecond)
	assert.Equal(t, filepath.Join("out", DefaultRootFileName), cfg.OutputPath(DefaultRootFileName))
}

func TestLoadAirdropConfig_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"outputDir": "x", "tokenDecimals": 6}`), 0o600))

	cfg, err := LoadAirdropConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.OutputDir)
	assert.Equal(t, 6, cfg.TokenDecimals)
}

func TestLoadAirdropConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadAirdropConfig(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(bad, []byte("a = 1"), 0o600))
	_, err = LoadAirdropConfig(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file extension")

	broken := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0o600))
	_, err = LoadAirdropConfig(broken)
	require.Error(t, err)
}
