package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/region-engine/internal/reachability"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Inspect cached region reference data",
}

var regionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active regions",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME\tCOUNTRY\tGRANULARITY\tTIMEZONE\tQ\tT\tL\tE\tSALES")
		for _, r := range eng.Registry.GetAllRegions(cmd.Context()) {
			m := r.Modifiers
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
				r.Code, r.Name, r.CountryCode, r.Granularity, r.Timezone, m.Q, m.T, m.L, m.E, r.SalesCycleMultiplier)
		}
		return w.Flush()
	},
}

var regionsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registry snapshot statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		return printJSON(cmd.OutOrStdout(), eng.Registry.Stats())
	},
}

var exportFormat string

var regionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump the registry snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		dump := eng.Registry.Export(cmd.Context())
		switch exportFormat {
		case "json":
			return printJSON(cmd.OutOrStdout(), dump)
		case "yaml":
			// Round-trip through JSON so field names and raw JSON blobs
			// match the json export.
			raw, err := json.Marshal(dump)
			if err != nil {
				return eris.Wrap(err, "encode export")
			}
			var doc any
			if err := json.Unmarshal(raw, &doc); err != nil {
				return eris.Wrap(err, "decode export")
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(doc); err != nil {
				return eris.Wrap(err, "encode yaml")
			}
			return enc.Close()
		default:
			return eris.Errorf("unknown format %q (json or yaml)", exportFormat)
		}
	},
}

var coverageRegion string

var regionsCoverageCmd = &cobra.Command{
	Use:   "coverage [territory codes or patterns...]",
	Short: "Preview the territories a coverage list selects",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := requireStore(eng); err != nil {
			return err
		}
		ctx := cmd.Context()

		region, ok := eng.Registry.GetRegion(ctx, coverageRegion)
		if !ok {
			return eris.Errorf("unknown region %q", coverageRegion)
		}

		// Region ID occupies $1.
		f := reachability.BuildSQLFilter(splitList(args), reachability.WithArgOffset(1))
		rows, err := eng.Store.ListTerritoriesWhere(ctx, region.ID, f.Clause, f.Args)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "-- %s\n", f.Clause)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME\tLEVEL")
		for _, t := range rows {
			fmt.Fprintf(w, "%s\t%s\t%d\n", t.Code, t.Name, t.Level)
		}
		return w.Flush()
	},
}

func init() {
	regionsExportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json or yaml")
	regionsCoverageCmd.Flags().StringVar(&coverageRegion, "region", "", "region code or id")
	_ = regionsCoverageCmd.MarkFlagRequired("region")

	regionsCmd.AddCommand(regionsListCmd, regionsStatusCmd, regionsExportCmd, regionsCoverageCmd)
	rootCmd.AddCommand(regionsCmd)
}
