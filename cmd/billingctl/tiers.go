package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/tierbill/pkg/tiers"
)

func newTiersCmd() *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Inspect the tier catalog",
	}
	cmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Catalog YAML to read instead of the built-in one")

	load := func() (*tiers.Catalog, error) {
		if catalogPath == "" {
			return tiers.Default(), nil
		}
		return tiers.LoadFile(catalogPath)
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List tiers with their prices and limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := load()
			if err != nil {
				return err
			}
			defs := catalog.Public()
			if all {
				defs = catalog.All()
			}
			printTiers(cmd.OutOrStdout(), defs)
			return nil
		},
	}
	list.Flags().BoolVar(&all, "all", false, "Include tiers that are not publicly listed")

	var (
		contractors int64
		storageGB   string
		apiCalls    int64
		connections int64
	)
	recommend := &cobra.Command{
		Use:   "recommend",
		Short: "Print the cheapest public tier that fits a usage profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := load()
			if err != nil {
				return err
			}
			storage, err := decimal.NewFromString(storageGB)
			if err != nil {
				return fmt.Errorf("invalid --storage-gb %q: %w", storageGB, err)
			}
			id := catalog.Recommend(tiers.Usage{
				Contractors:           contractors,
				StorageGB:             storage,
				APICalls:              apiCalls,
				ConcurrentConnections: connections,
			})
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	recommend.Flags().Int64Var(&contractors, "contractors", 0, "Active contractors")
	recommend.Flags().StringVar(&storageGB, "storage-gb", "0", "Storage in GB")
	recommend.Flags().Int64Var(&apiCalls, "api-calls", 0, "API calls per month")
	recommend.Flags().Int64Var(&connections, "connections", 0, "Concurrent connections")

	cmd.AddCommand(list, recommend)
	return cmd
}

func printTiers(out io.Writer, defs []tiers.Definition) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tNAME\tMONTHLY\tCONTRACTORS\tSTORAGE GB\tAPI CALLS\tCONNECTIONS")
	for _, def := range defs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			def.ID,
			def.Name,
			def.MonthlyPrice.StringFixed(2),
			formatLimit(def.Limits.Contractors),
			formatLimit(def.Limits.StorageGB),
			formatLimit(def.Limits.APICallsPerMonth),
			formatLimit(def.Limits.ConcurrentConnections),
		)
	}
	w.Flush()
}

func formatLimit(limit int64) string {
	if limit == tiers.Unlimited {
		return "unlimited"
	}
	return strings.TrimSpace(strconv.FormatInt(limit, 10))
}
