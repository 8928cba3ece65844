package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/teilomillet/quill/server/assign"
	"github.com/teilomillet/quill/server/cache"
	"github.com/teilomillet/quill/server/filter"
	"github.com/teilomillet/quill/server/metrics"
	"github.com/teilomillet/quill/server/provider"
	"github.com/teilomillet/quill/server/transform"
)

func newTransformCmd(a *app) *cobra.Command {
	var (
		identity   string
		filterName string
		mode       string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "transform MESSAGE",
		Short: "Transform a single message and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := filter.NewCatalog(a.cfg.Filters.Path, a.logger)
			if err != nil {
				return fmt.Errorf("load filters: %w", err)
			}
			assignCfg := a.cfg.Assign
			if mode != "" {
				assignCfg.Mode = mode
			}
			assigner, err := assign.New(assignCfg, catalog, assign.WithLogger(a.logger))
			if err != nil {
				return err
			}
			store, err := cache.OpenStore(a.cfg.Cache)
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			client, err := provider.NewClient(a.cfg, a.logger, metrics.NewMetrics().Registry())
			if err != nil {
				store.Close()
				return fmt.Errorf("create provider client: %w", err)
			}
			defer client.Close()

			orch := transform.New(a.cfg, catalog, client, a.logger,
				transform.WithAssigner(assigner),
				transform.WithCacheStore(store),
				transform.WithTokenCounter(transform.NewTokenCounter(a.logger)),
			)
			defer orch.Close()

			future, err := orch.TransformByName(identity, args[0], filterName)
			if err != nil {
				return err
			}
			res, err := future.Wait(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, asJSON)
		},
	}
	cmd.Flags().StringVarP(&identity, "identity", "i", "cli", "Identity the message is attributed to")
	cmd.Flags().StringVarP(&filterName, "filter", "f", "", "Filter to apply; assigned by mode when empty")
	cmd.Flags().StringVar(&mode, "mode", "", "Assignment mode overriding the configured one")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

func printResult(w io.Writer, res transform.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(w, res.Message)
	if res.FollowUp != "" {
		fmt.Fprintln(w, res.FollowUp)
	}
	if res.Failed() {
		return fmt.Errorf("transformation %s: %s", res.Outcome, res.Cause)
	}
	return nil
}
