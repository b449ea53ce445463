package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/region-engine/internal/pipeline"
	"github.com/sells-group/region-engine/internal/scorer"
	"github.com/sells-group/region-engine/internal/territory"
)

var (
	ctxTenant    string
	ctxRegion    string
	ctxVertical  string
	ctxLocation  string
	ctxPack      string
	ctxFollowUps int
	ctxScores    scorer.Scores
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Build the region pipeline context for a request",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		rc, err := eng.Builder.BuildRegionPipelineContext(cmd.Context(), pipeline.Request{
			TenantID:   ctxTenant,
			RegionCode: ctxRegion,
			VerticalID: ctxVertical,
			Location:   territory.ParseLocation(ctxLocation),
			TimingPack: ctxPack,
		})
		if err != nil {
			return err
		}

		out := contextResponse{
			Context: rc.Audit(),
			Timing:  rc.GetOptimalContactTiming(),
		}
		if ctxScores != (scorer.Scores{}) {
			s := rc.ApplyScoreModifiers(ctxScores)
			out.Scores = &s
		}
		if ctxFollowUps > 0 {
			out.FollowUps = rc.FollowUpSchedule(ctxFollowUps)
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	f := contextCmd.Flags()
	f.StringVar(&ctxTenant, "tenant", "", "tenant id")
	f.StringVar(&ctxRegion, "region", "", "region code or id")
	f.StringVar(&ctxVertical, "vertical", "", "vertical id")
	f.StringVar(&ctxLocation, "location", "", "free-form entity location")
	f.StringVar(&ctxPack, "pack", "", "timing pack name (default: the region's default pack)")
	f.IntVar(&ctxFollowUps, "follow-ups", 0, "number of contact attempts to schedule")
	f.Float64Var(&ctxScores.Q, "q", 0, "base Q score to modify")
	f.Float64Var(&ctxScores.T, "t", 0, "base T score to modify")
	f.Float64Var(&ctxScores.L, "l", 0, "base L score to modify")
	f.Float64Var(&ctxScores.E, "e", 0, "base E score to modify")
	rootCmd.AddCommand(contextCmd)
}
