package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gpuwatch/internal/app"
	"gpuwatch/internal/config"
	"gpuwatch/internal/telemetry"
	logx "gpuwatch/pkg/logx"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Read every GPU once and print the evaluated signal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(configPath(cmd)).Load()
			if err != nil {
				return err
			}
			log := logx.NewConsole("warn")
			p, err := app.OpenTelemetry(cfg, log)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := p.Init(ctx); err != nil {
				return err
			}
			defer p.Close()

			readings, err := telemetry.ReadAll(ctx, p)
			if err != nil {
				return err
			}
			policy := app.Policy(cfg)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "GPU\tPROCS\tMEM\tUTIL\tOCCUPIED")
			for _, r := range readings {
				fmt.Fprintf(w, "%d\t%d\t%.1f%%\t%.0f%%\t%v\n",
					r.Index, r.ProcessCount, r.MemoryUsedRatio*100, r.UtilizationPercent, policy.Occupied(r))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signal: %s (%d of %d occupied, tolerance %d)\n",
				policy.Evaluate(readings), policy.CountOccupied(readings), len(readings), policy.BusyTolerance)
			return nil
		},
	}
}
