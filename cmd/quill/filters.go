package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teilomillet/quill/server/filter"
)

func newFiltersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filters",
		Short: "List and toggle filters in the catalog file",
	}

	var enabledOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := filter.NewCatalog(a.cfg.Filters.Path, a.logger)
			if err != nil {
				return err
			}
			defs := catalog.All()
			if enabledOnly {
				defs = catalog.Enabled()
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENABLED\tEMOJI\tPROMPT")
			for _, d := range defs {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", d.Name, d.Enabled, d.Emoji, d.Prompt)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&enabledOnly, "enabled", false, "Only show enabled filters")

	cmd.AddCommand(
		list,
		toggleCmd(a, "enable", "Enable filters and save the catalog", true),
		toggleCmd(a, "disable", "Disable filters and save the catalog", false),
	)
	return cmd
}

func toggleCmd(a *app, use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Filters.Path == "" {
				return fmt.Errorf("filters.path is not configured, changes would not be saved")
			}
			catalog, err := filter.NewCatalog(a.cfg.Filters.Path, a.logger)
			if err != nil {
				return err
			}
			for _, name := range args {
				def, err := catalog.SetEnabled(name, enabled)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", def.Name, use)
			}
			return nil
		},
	}
}
