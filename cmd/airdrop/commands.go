package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/airdrop"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/config"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/screening"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/types"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// commandEnv bundles what every command needs.
type commandEnv struct {
	cfg     *config.AirdropConfig
	logger  *zap.Logger
	store   persistence.IArtifactStore
	service *airdrop.Service
}

func setup(c *cli.Context) (*commandEnv, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	l, err := newLogger(c, cfg)
	if err != nil {
		return nil, err
	}

	store, err := airdrop.NewArtifactStore(cfg, l)
	if err != nil {
		return nil, err
	}

	return &commandEnv{
		cfg:     cfg,
		logger:  l,
		store:   store,
		service: airdrop.NewService(cfg, store, l),
	}, nil
}

func (r *commandEnv) close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Sugar().Warnw("Failed to close artifact store", "error", err)
		}
	}
	_ = r.logger.Sync()
}

// loadTree resolves a tree from a --stored reference, a --tree file, or the
// tree file in the output directory, in that order.
func (r *commandEnv) loadTree(c *cli.Context) (*merkle.StandardTree, error) {
	if c.IsSet("stored") {
		ref := c.String("stored")
		if ref == "latest" {
			ref = ""
		}
		_, tree, err := r.service.LoadStoredTree(ref)
		return tree, err
	}
	path := c.String("tree")
	if path == "" {
		path = r.cfg.OutputPath(config.DefaultTreeFileName)
	}
	return airdrop.LoadTreeFile(path)
}

func prepareCommand(c *cli.Context) error {
	r, err := setup(c)
	if err != nil {
		return err
	}
	defer r.close()

	if r.cfg.RawAirdropDataPath == "" {
		return fmt.Errorf("rawAirdropDataPath must be set in the config file")
	}
	allocs, err := r.service.PrepareAllocations(c.Context)
	if err != nil {
		return err
	}
	r.logger.Sugar().Infow("Allocations prepared", "count", len(allocs))
	return nil
}

func buildCommand(c *cli.Context) error {
	r, err := setup(c)
	if err != nil {
		return err
	}
	defer r.close()

	var allocs []types.Allocation
	if path := c.String("allocations"); path != "" {
		allocs, err = airdrop.LoadAllocationsFile(path)
	} else {
		if r.cfg.RawAirdropDataPath == "" {
			return fmt.Errorf("either --allocations or rawAirdropDataPath in the config file is required")
		}
		allocs, err = r.service.PrepareAllocations(c.Context)
	}
	if err != nil {
		return err
	}

	artifacts, err := r.service.Generate(c.Context, allocs, c.String("label"))
	if err != nil {
		return err
	}

	fmt.Printf("Merkle root: %s\n", artifacts.Root.MerkleRoot)
	fmt.Printf("Leaves:      %d\n", artifacts.Tree.Len())
	if artifacts.Record != nil {
		fmt.Printf("Stored as:   %s\n", artifacts.Record.ID)
	}
	return nil
}

func proofsCommand(c *cli.Context) error {
	r, err := setup(c)
	if err != nil {
		return err
	}
	defer r.close()

	tree, err := r.loadTree(c)
	if err != nil {
		return err
	}
	proofs, err := airdrop.GenerateProofs(c.Context, tree, r.cfg.Workers)
	if err != nil {
		return err
	}

	output := c.String("output")
	if output == "" {
		output = r.cfg.OutputPath(config.DefaultProofsFileName)
	}
	if err := airdrop.WriteJSONFile(output, proofs); err != nil {
		return err
	}
	r.logger.Sugar().Infow("Proofs written", "path", output, "claims", len(proofs), "root", tree.RootHex())
	return nil
}

func verifyCommand(c *cli.Context) error {
	r, err := setup(c)
	if err != nil {
		return err
	}
	defer r.close()

	root := c.String("root")
	if root == "" {
		out, err := airdrop.LoadRootFile(r.cfg.OutputPath(config.DefaultRootFileName))
		if err != nil {
			return err
		}
		root = out.MerkleRoot
	}

	proofsPath := c.String("proofs")
	if proofsPath == "" {
		proofsPath = r.cfg.OutputPath(config.DefaultProofsFileName)
	}
	proofs, err := airdrop.LoadProofsFile(proofsPath)
	if err != nil {
		return err
	}

	r.logger.Sugar().Infow("Verifying proofs", "root", root, "claims", len(proofs))
	summary, err := airdrop.VerifyProofs(merkle.Format(r.cfg.TreeFormat), root, proofs)
	if summary != nil {
		fmt.Printf("Verified: %d\n", summary.Verified)
		fmt.Printf("Invalid:  %d\n", len(summary.Invalid))
		fmt.Printf("Total:    %s\n", summary.Total)
		for _, address := range summary.Invalid {
			fmt.Printf("  invalid claim: %s\n", address)
		}
	}
	if err != nil {
		return err
	}

	allocationsPath := c.String("allocations")
	if allocationsPath == "" {
		allocationsPath = r.cfg.OutputPath(config.DefaultAllocationsFileName)
		if _, statErr := os.Stat(allocationsPath); statErr != nil {
			r.logger.Sugar().Infow("No allocations file, skipping total check", "path", allocationsPath)
			return nil
		}
	}
	allocs, err := airdrop.LoadAllocationsFile(allocationsPath)
	if err != nil {
		return err
	}
	if err := airdrop.CheckTotal(summary, allocs); err != nil {
		return err
	}
	fmt.Printf("Total matches %s\n", allocationsPath)
	return nil
}

func verifyClaimCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	valid, err := airdrop.VerifyClaim(
		merkle.Format(cfg.TreeFormat),
		c.String("root"),
		c.String("address"),
		c.String("amount"),
		c.StringSlice("proof"),
	)
	if err != nil {
		return err
	}
	if !valid {
		return cli.Exit("claim is NOT valid", 1)
	}
	fmt.Println("claim is valid")
	return nil
}

func screenCommand(c *cli.Context) error {
	r, err := setup(c)
	if err != nil {
		return err
	}
	defer r.close()

	if r.cfg.Screening == nil {
		r.cfg.Screening = &config.ScreeningConfig{}
	}
	if c.IsSet("api-key") {
		r.cfg.Screening.APIKey = c.String("api-key")
	}
	if c.IsSet("base-url") {
		r.cfg.Screening.BaseURL = c.String("base-url")
	}
	if c.IsSet("rate") {
		r.cfg.Screening.RatePerSecond = c.Float64("rate")
	}
	r.cfg.ApplyDefaults()
	if err := r.cfg.ValidateScreening(); err != nil {
		return err
	}
	if r.cfg.RawAirdropDataPath == "" {
		return fmt.Errorf("rawAirdropDataPath must be set in the config file")
	}

	client, err := screening.NewClient(&screening.ClientConfig{
		BaseURL:       r.cfg.Screening.BaseURL,
		APIKey:        r.cfg.Screening.APIKey,
		RatePerSecond: r.cfg.Screening.RatePerSecond,
		Timeout:       time.Duration(r.cfg.Screening.TimeoutSeconds) * time.Second,
		Logger:        r.logger,
	})
	if err != nil {
		return err
	}

	report, err := r.service.Screen(c.Context, client)
	if report != nil {
		fmt.Printf("Scanned: %d, flagged: %d, failed: %d\n", report.Scanned, len(report.Flagged), len(report.Failed))
	}
	return err
}

func renderCommand(c *cli.Context) error {
	r, err := setup(c)
	if err != nil {
		return err
	}
	defer r.close()

	tree, err := r.loadTree(c)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(os.Stdout, tree.Render())
	return err
}

func listCommand(c *cli.Context) error {
	r, err := setup(c)
	if err != nil {
		return err
	}
	defer r.close()

	if r.store == nil {
		return fmt.Errorf("no artifact store configured (set --persistence-type)")
	}
	records, err := r.store.ListTrees()
	if err != nil {
		return err
	}
	latest, err := r.store.GetLatestTree()
	if err != nil {
		return err
	}
	for _, record := range records {
		marker := " "
		if record.ID == latest {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  %-12s %6d leaves  %s\n",
			marker,
			record.ID,
			record.Root,
			record.Format,
			record.LeafCount,
			time.Unix(0, record.CreatedAt).UTC().Format(time.RFC3339),
		)
		if record.Label != "" {
			fmt.Printf("  label: %s\n", record.Label)
		}
	}
	return nil
}
