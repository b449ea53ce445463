package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/region-engine/internal/granularity"
	"github.com/sells-group/region-engine/internal/territory"
)

var resolveRegion string

var resolveCmd = &cobra.Command{
	Use:   "resolve [location]",
	Short: "Resolve a free-form location to territories and display granularity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx := cmd.Context()
		loc := territory.ParseLocation(args[0])

		// Granularity wants a code; unscoped resolution uses the default region.
		code := resolveRegion
		if code == "" {
			code = eng.Registry.GetDefaultRegion(ctx).Code
		}
		regionID := ""
		if r, ok := eng.Registry.GetRegion(ctx, resolveRegion); ok {
			regionID = r.ID
		}

		return printJSON(cmd.OutOrStdout(), struct {
			Location    territory.Location      `json:"location"`
			Territory   territory.GeoResolution `json:"territory"`
			Granularity granularity.Result      `json:"granularity"`
		}{
			Location:    loc,
			Territory:   eng.Territories.Resolve(ctx, loc, regionID),
			Granularity: eng.Granularity.Resolve(ctx, loc, code),
		})
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveRegion, "region", "", "region code or id to scope resolution (default: all regions)")
	rootCmd.AddCommand(resolveCmd)
}
