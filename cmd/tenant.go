package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/tenantregion"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenant region bindings",
}

var tenantListCmd = &cobra.Command{
	Use:   "list [tenant-id]",
	Short: "List a tenant's active bindings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := requireStore(eng); err != nil {
			return err
		}

		bindings, err := eng.Tenants.GetTenantRegions(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REGION\tDEFAULT\tCOVERAGE\tQ\tT\tL\tE\tSALES\tCHANNELS\tCUSTOM")
		for _, b := range bindings {
			m := b.Modifiers
			coverage := "all"
			if !b.FullCoverage() {
				coverage = strings.Join(b.CoverageTerritories, ",")
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%t\n",
				b.Region.Code, b.Binding.IsDefault, coverage, m.Q, m.T, m.L, m.E,
				b.SalesCycleMultiplier, joinChannels(b.PreferredChannels), b.HasCustomizations)
		}
		return w.Flush()
	},
}

var (
	bindDefault  bool
	bindCoverage []string
	bindSales    float64
	bindChannels []string
)

var tenantBindCmd = &cobra.Command{
	Use:   "bind [tenant-id] [region]",
	Short: "Bind a tenant to a region",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := requireStore(eng); err != nil {
			return err
		}

		opts := tenantregion.BindOptions{
			IsDefault:               bindDefault,
			CoverageTerritories:     splitList(bindCoverage),
			CustomPreferredChannels: parseChannels(bindChannels),
		}
		if cmd.Flags().Changed("sales-multiplier") {
			opts.CustomSalesCycleMultiplier = &bindSales
		}

		eff, err := eng.Tenants.BindTenantToRegion(cmd.Context(), args[0], args[1], opts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), eff)
	},
}

var tenantUnbindCmd = &cobra.Command{
	Use:   "unbind [tenant-id] [region]",
	Short: "Deactivate a tenant's binding to a region",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := requireStore(eng); err != nil {
			return err
		}

		if err := eng.Tenants.UnbindTenantFromRegion(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unbound %s from %s\n", args[0], args[1])
		return nil
	},
}

var tenantSetDefaultCmd = &cobra.Command{
	Use:   "set-default [tenant-id] [region]",
	Short: "Make a region the tenant's default",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := requireStore(eng); err != nil {
			return err
		}

		eff, err := eng.Tenants.SetDefaultRegion(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), eff)
	},
}

var tenantCoverageCmd = &cobra.Command{
	Use:   "coverage [tenant-id] [region] [territory codes or patterns...]",
	Short: "Replace a binding's coverage list (no codes restores full coverage)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := requireStore(eng); err != nil {
			return err
		}

		eff, err := eng.Tenants.UpdateCoverageTerritories(cmd.Context(), args[0], args[1], splitList(args[2:]))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), eff)
	},
}

// splitList flattens comma-separated values and drops blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func parseChannels(values []string) []model.Channel {
	var out []model.Channel
	for _, s := range splitList(values) {
		out = append(out, model.Channel(strings.ToLower(s)))
	}
	return out
}

func joinChannels(channels []model.Channel) string {
	parts := make([]string, len(channels))
	for i, c := range channels {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func init() {
	f := tenantBindCmd.Flags()
	f.BoolVar(&bindDefault, "default", false, "make this the tenant's default region")
	f.StringSliceVar(&bindCoverage, "coverage", nil, "territory codes or patterns the tenant covers (default: whole region)")
	f.Float64Var(&bindSales, "sales-multiplier", 0, "custom sales cycle multiplier")
	f.StringSliceVar(&bindChannels, "channels", nil, "custom preferred channels, most preferred first")

	tenantCmd.AddCommand(tenantListCmd, tenantBindCmd, tenantUnbindCmd, tenantSetDefaultCmd, tenantCoverageCmd)
	rootCmd.AddCommand(tenantCmd)
}
