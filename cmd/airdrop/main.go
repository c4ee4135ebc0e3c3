package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/config"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "airdrop",
		Usage: "Token airdrop merkle tree generator and verifier",
		Description: `Builds the merkle commitment for a token airdrop and the artifacts claimants need.

This tool can:
- Turn raw allocation sheets into per-address base-unit allocations
- Screen addresses against the Chainalysis sanctions API
- Build a sorted merkle tree and export its root, dump and per-address proofs
- Verify a full proofs file or a single claim against a root`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a JSON or YAML airdrop config file",
				EnvVars: []string{config.EnvAirdropConfigFile},
			},
			&cli.StringFlag{
				Name:    "output-dir",
				Aliases: []string{"o"},
				Usage:   "Directory artifacts are written to",
				EnvVars: []string{config.EnvAirdropOutputDir},
			},
			&cli.StringFlag{
				Name:    "tree-format",
				Usage:   "Tree hashing format: standard-v1 or tagged-v1",
				EnvVars: []string{config.EnvAirdropTreeFormat},
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Goroutines used for hashing (0 uses GOMAXPROCS)",
				EnvVars: []string{config.EnvAirdropWorkers},
			},
			&cli.IntFlag{
				Name:    "token-decimals",
				Usage:   "Decimals used to scale token amounts to base units",
				EnvVars: []string{config.EnvAirdropTokenDecimals},
			},
			&cli.StringFlag{
				Name:    "persistence-type",
				Usage:   "Artifact store: none, memory, badger or redis",
				EnvVars: []string{config.EnvAirdropPersistenceType},
			},
			&cli.StringFlag{
				Name:    "badger-path",
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvAirdropBadgerPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port)",
				EnvVars: []string{config.EnvAirdropRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvAirdropRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvAirdropRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every Redis key",
				EnvVars: []string{config.EnvAirdropRedisKeyPrefix},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvAirdropVerbose},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "prepare",
				Usage:  "Process the raw allocation sheets into per-address allocations",
				Action: prepareCommand,
			},
			{
				Name:  "build",
				Usage: "Build the merkle tree and export root, dump and proofs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "allocations",
						Usage: "Allocations JSON file; when unset the raw sheets are processed first",
					},
					&cli.StringFlag{
						Name:  "label",
						Usage: "Label stored with the tree record",
					},
				},
				Action: buildCommand,
			},
			{
				Name:  "proofs",
				Usage: "Regenerate the proofs file from a tree dump or a stored tree",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "tree",
						Usage: "Tree dump file",
					},
					&cli.StringFlag{
						Name:  "stored",
						Usage: "Stored tree id or root (\"latest\" for the latest tree)",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output proofs file (defaults to the output directory)",
					},
				},
				Action: proofsCommand,
			},
			{
				Name:  "verify",
				Usage: "Verify every claim of a proofs file against a root",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "root",
						Usage: "Merkle root hash; defaults to the root file in the output directory",
					},
					&cli.StringFlag{
						Name:  "proofs",
						Usage: "Proofs file; defaults to the proofs file in the output directory",
					},
					&cli.StringFlag{
						Name:  "allocations",
						Usage: "Allocations file the verified total is checked against; defaults to the allocations file in the output directory when present",
					},
				},
				Action: verifyCommand,
			},
			{
				Name:  "verify-claim",
				Usage: "Verify a single (address, amount, proof) claim",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "root",
						Usage:    "Merkle root hash",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "address",
						Usage:    "Claiming address",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "amount",
						Usage:    "Claimed amount in base units",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "proof",
						Usage: "Proof hash, repeat once per sibling",
					},
				},
				Action: verifyClaimCommand,
			},
			{
				Name:  "screen",
				Usage: "Screen every input address against the sanctions API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "api-key",
						Usage:   "Chainalysis API key",
						EnvVars: []string{config.EnvChainalysisAPIKey},
					},
					&cli.StringFlag{
						Name:    "base-url",
						Usage:   "Chainalysis API base URL",
						EnvVars: []string{config.EnvChainalysisBaseURL},
					},
					&cli.Float64Flag{
						Name:    "rate",
						Usage:   "Maximum requests per second",
						EnvVars: []string{config.EnvChainalysisRatePerSecond},
					},
				},
				Action: screenCommand,
			},
			{
				Name:  "render",
				Usage: "Print the tree structure",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "tree",
						Usage: "Tree dump file; defaults to the tree file in the output directory",
					},
					&cli.StringFlag{
						Name:  "stored",
						Usage: "Stored tree id or root (\"latest\" for the latest tree)",
					},
				},
				Action: renderCommand,
			},
			{
				Name:   "list",
				Usage:  "List trees in the artifact store",
				Action: listCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

// newLogger creates the process logger from the global verbose flag.
func newLogger(c *cli.Context, cfg *config.AirdropConfig) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{
		Debug: c.Bool("verbose") || cfg.Debug || cfg.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

// loadConfig reads the optional config file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.AirdropConfig, error) {
	cfg := config.NewDefaultAirdropConfig()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadAirdropConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}
	if c.IsSet("tree-format") {
		cfg.TreeFormat = c.String("tree-format")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("token-decimals") {
		cfg.TokenDecimals = c.Int("token-decimals")
	}
	if c.IsSet("persistence-type") {
		cfg.PersistenceType = config.PersistenceType(c.String("persistence-type"))
	}
	if c.IsSet("badger-path") {
		cfg.BadgerPath = c.String("badger-path")
	}
	if c.IsSet("redis-address") {
		if cfg.Redis == nil {
			cfg.Redis = &config.RedisConfig{}
		}
		cfg.Redis.Address = c.String("redis-address")
		cfg.Redis.Password = c.String("redis-password")
		cfg.Redis.DB = c.Int("redis-db")
		cfg.Redis.KeyPrefix = c.String("redis-key-prefix")
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
