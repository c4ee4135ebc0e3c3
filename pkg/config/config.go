package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for the airdrop tooling
const (
	EnvAirdropConfigFile        = "AIRDROP_CONFIG_FILE"
	EnvAirdropOutputDir         = "AIRDROP_OUTPUT_DIR"
	EnvAirdropTreeFormat        = "AIRDROP_TREE_FORMAT"
	EnvAirdropWorkers           = "AIRDROP_WORKERS"
	EnvAirdropTokenDecimals     = "AIRDROP_TOKEN_DECIMALS"
	EnvAirdropPersistenceType   = "AIRDROP_PERSISTENCE_TYPE"
	EnvAirdropBadgerPath        = "AIRDROP_BADGER_PATH"
	EnvAirdropRedisAddress      = "AIRDROP_REDIS_ADDRESS"
	EnvAirdropRedisPassword     = "AIRDROP_REDIS_PASSWORD"
	EnvAirdropRedisDB           = "AIRDROP_REDIS_DB"
	EnvAirdropRedisKeyPrefix    = "AIRDROP_REDIS_KEY_PREFIX"
	EnvChainalysisAPIKey        = "CHAINALYSIS_API_KEY"
	EnvChainalysisBaseURL       = "CHAINALYSIS_BASE_URL"
	EnvChainalysisRatePerSecond = "CHAINALYSIS_RATE_PER_SECOND"
	EnvAirdropVerbose           = "AIRDROP_VERBOSE"
)

type PersistenceType string

func (p PersistenceType) String() string {
	return string(p)
}

const (
	PersistenceTypeNone   PersistenceType = "none"
	PersistenceTypeMemory PersistenceType = "memory"
	PersistenceTypeBadger PersistenceType = "badger"
	PersistenceTypeRedis  PersistenceType = "redis"
)

// Default values
const (
	DefaultTokenDecimals         = 18
	DefaultOutputDir             = "./output"
	DefaultTreeFormat            = "standard-v1"
	DefaultChainalysisBaseURL    = "https://public.chainalysis.com"
	DefaultChainalysisRate       = 13.0 // one request every ~75ms
	DefaultRootFileName          = "merkle-root.json"
	DefaultTreeFileName          = "merkle-tree.json"
	DefaultProofsFileName        = "merkle-proofs.json"
	DefaultAllocationsFileName   = "tokens-per-address-data.json"
	DefaultEligibilityFileName   = "eligibility-data.json"
	DefaultScreenedListFileName  = "addresses-to-remove.json"
	DefaultScreeningFailuresFile = "screening-failures.json"
	DefaultSlugMapFileName       = "slug-map.json"
)

// CategoryConfig describes one allocation category of the raw airdrop sheet.
// A CSV column belongs to the category whose Prefix it starts with.
type CategoryConfig struct {
	Name   string   `json:"name" yaml:"name"`
	Prefix string   `json:"prefix" yaml:"prefix"`
	Groups []string `json:"groups" yaml:"groups"`
}

// RedisConfig holds the artifact store connection settings for redis persistence.
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

// ScreeningConfig configures the sanctions screening client.
type ScreeningConfig struct {
	APIKey         string  `json:"apiKey" yaml:"apiKey"`
	BaseURL        string  `json:"baseUrl" yaml:"baseUrl"`
	RatePerSecond  float64 `json:"ratePerSecond" yaml:"ratePerSecond"`
	TimeoutSeconds int     `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// AirdropConfig is the complete configuration of an airdrop generation run.
type AirdropConfig struct {
	// Inputs
	RawAirdropDataPath          string `json:"rawAirdropDataPath" yaml:"rawAirdropDataPath"`
	RegularDistributionDataPath string `json:"regularDistributionDataPath" yaml:"regularDistributionDataPath"`
	AddressesToRemovePath       string `json:"addressesToRemovePath" yaml:"addressesToRemovePath"`

	// Category layout of the raw sheet
	Categories                []CategoryConfig `json:"categories" yaml:"categories"`
	RegularDistributionPrefix string           `json:"regularDistributionPrefix" yaml:"regularDistributionPrefix"`
	// SlugMap maps group slugs to display names for the claim frontend.
	SlugMap map[string]string `json:"slugMap,omitempty" yaml:"slugMap,omitempty"`

	// Outputs
	OutputDir string `json:"outputDir" yaml:"outputDir"`

	// Tree construction
	TreeFormat    string `json:"treeFormat" yaml:"treeFormat"`
	Workers       int    `json:"workers" yaml:"workers"`
	TokenDecimals int    `json:"tokenDecimals" yaml:"tokenDecimals"`

	// Artifact persistence
	PersistenceType PersistenceType `json:"persistenceType" yaml:"persistenceType"`
	BadgerPath      string          `json:"badgerPath" yaml:"badgerPath"`
	Redis           *RedisConfig    `json:"redis,omitempty" yaml:"redis,omitempty"`

	Screening *ScreeningConfig `json:"screening,omitempty" yaml:"screening,omitempty"`

	Debug   bool `json:"debug" yaml:"debug"`
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// NewDefaultAirdropConfig returns a config with every default applied.
func NewDefaultAirdropConfig() *AirdropConfig {
	cfg := &AirdropConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with their defaults.
func (c *AirdropConfig) ApplyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.TreeFormat == "" {
		c.TreeFormat = DefaultTreeFormat
	}
	if c.TokenDecimals == 0 {
		c.TokenDecimals = DefaultTokenDecimals
	}
	if c.PersistenceType == "" {
		c.PersistenceType = PersistenceTypeNone
	}
	if c.RegularDistributionPrefix == "" {
		c.RegularDistributionPrefix = "regular-distribution"
	}
	if c.Screening != nil {
		if c.Screening.BaseURL == "" {
			c.Screening.BaseURL = DefaultChainalysisBaseURL
		}
		if c.Screening.RatePerSecond == 0 {
			c.Screening.RatePerSecond = DefaultChainalysisRate
		}
		if c.Screening.TimeoutSeconds == 0 {
			c.Screening.TimeoutSeconds = 10
		}
	}
}

// Validate validates the airdrop configuration, reporting every problem at once.
func (c *AirdropConfig) Validate() error {
	var allErrors field.ErrorList

	if c.OutputDir == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("outputDir"), "outputDir is required"))
	}
	if c.TreeFormat != "standard-v1" && c.TreeFormat != "tagged-v1" {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("treeFormat"), c.TreeFormat, []string{"standard-v1", "tagged-v1"}))
	}
	if c.Workers < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("workers"), c.Workers, "workers cannot be negative"))
	}
	if c.TokenDecimals < 0 || c.TokenDecimals > 77 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("tokenDecimals"), c.TokenDecimals, "tokenDecimals must be between 0 and 77"))
	}

	seenPrefixes := make(map[string]bool)
	for i, cat := range c.Categories {
		p := field.NewPath("categories").Index(i)
		if cat.Name == "" {
			allErrors = append(allErrors, field.Required(p.Child("name"), "category name is required"))
		}
		if cat.Prefix == "" {
			allErrors = append(allErrors, field.Required(p.Child("prefix"), "category prefix is required"))
		} else if seenPrefixes[cat.Prefix] {
			allErrors = append(allErrors, field.Duplicate(p.Child("prefix"), cat.Prefix))
		}
		seenPrefixes[cat.Prefix] = true
	}

	switch c.PersistenceType {
	case PersistenceTypeNone, PersistenceTypeMemory:
	case PersistenceTypeBadger:
		if c.BadgerPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("badgerPath"), "badgerPath is required for badger persistence"))
		}
	case PersistenceTypeRedis:
		if c.Redis == nil || c.Redis.Address == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redis", "address"), "redis address is required for redis persistence"))
		} else if c.Redis.DB < 0 || c.Redis.DB > 15 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redis", "db"), c.Redis.DB, "redis db must be between 0 and 15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistenceType"), string(c.PersistenceType),
			[]string{string(PersistenceTypeNone), string(PersistenceTypeMemory), string(PersistenceTypeBadger), string(PersistenceTypeRedis)}))
	}

	if c.Screening != nil {
		if c.Screening.RatePerSecond < 0 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("screening", "ratePerSecond"), c.Screening.RatePerSecond, "rate cannot be negative"))
		}
		if c.Screening.BaseURL != "" && !strings.HasPrefix(c.Screening.BaseURL, "http://") && !strings.HasPrefix(c.Screening.BaseURL, "https://") {
			allErrors = append(allErrors, field.Invalid(field.NewPath("screening", "baseUrl"), c.Screening.BaseURL, "baseUrl must be an http(s) URL"))
		}
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// ValidateScreening checks the settings needed to call the screening API.
func (c *AirdropConfig) ValidateScreening() error {
	var allErrors field.ErrorList
	if c.Screening == nil || c.Screening.APIKey == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("screening", "apiKey"), "apiKey is required for sanctions screening"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// OutputPath joins a file name onto the output directory.
func (c *AirdropConfig) OutputPath(name string) string {
	return filepath.Join(c.OutputDir, name)
}

// LoadAirdropConfig reads a JSON or YAML config file, chosen by extension, and applies defaults.
func LoadAirdropConfig(path string) (*AirdropConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &AirdropConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q (expected .json, .yaml or .yml)", filepath.Ext(path))
	}

	cfg.ApplyDefaults()
	return cfg, nil
}
