package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/morezero/message-relay/internal/config"
	"github.com/morezero/message-relay/pkg/bootstrap"
	"github.com/morezero/message-relay/pkg/classify"
	"github.com/morezero/message-relay/pkg/clients"
	"github.com/morezero/message-relay/pkg/db"
)

var classifyFlags struct {
	logID string
}

var classifyCmd = &cobra.Command{
	Use:   "classify <id>",
	Short: "Classify an id as wallet or process, storing the answer like the relay does",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyFlags.logID, "log-id", "cli", "Log correlation id")
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	topology, err := bootstrap.LoadTopology(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}
	resolved := bootstrap.CreateResolvedTopology(topology)
	cfg.ApplyTopology(resolved)
	if err := cfg.ValidateProbe(); err != nil {
		return err
	}

	gateway, err := clients.NewGatewayClient(clients.NewGatewayClientParams{
		GatewayURL:  cfg.GatewayURL,
		UploaderURL: cfg.UploaderURL,
		HTTPClient:  &http.Client{Timeout: cfg.UpstreamTimeout},
		ProbeRate:   cfg.GatewayProbeRate,
	})
	if err != nil {
		return err
	}

	var store classify.Store = classify.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		store = db.NewClassificationRepository(pool)
	}

	classifier, err := classify.NewClassifier(classify.NewClassifierParams{
		Store:       store,
		Prober:      gateway,
		ExcludedIDs: resolved.KnownProcessIDs(),
		Retry:       cfg.ProbeRetryPolicy(),
	})
	if err != nil {
		return err
	}

	id := args[0]
	kind := "process"
	if classifier.IsWallet(ctx, id, classifyFlags.logID) {
		kind = "wallet"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, kind)
	return nil
}
