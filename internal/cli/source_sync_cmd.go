package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"warden/internal/app"
	"warden/internal/platform/config"
	"warden/internal/platform/logger"
)

func newSourceSyncCmd() *cobra.Command {
	var (
		force        bool
		raiseOnError bool
	)
	cmd := &cobra.Command{
		Use:   "source-sync [source...]",
		Short: "Synchronize external sources now",
		Long: `Runs one pull pass for each named source (all configured sources when
none are named). Every source is attempted; the command exits non-zero when
any source's pass contained errors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New()
			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.Pulls.PullAll(context.Background(), args, force, raiseOnError)

			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				stats := results[name]
				if stats.Skipped {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: skipped (pulled recently)\n", name)
					continue
				}
				counts := stats.Counts()
				fmt.Fprintf(cmd.OutOrStdout(),
					"%s: created=%d updated=%d unchanged=%d deactivated=%d reactivated=%d errors=%d\n",
					name, counts["created"], counts["updated"], counts["unchanged"],
					counts["deactivated"], counts["reactivated"], counts["errors"])
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "bypass the synchronization interval check")
	cmd.Flags().BoolVar(&raiseOnError, "raise-on-error", false, "abort a source's pass on the first row error")
	return cmd
}
