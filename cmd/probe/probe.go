package probe

import (
	"github.com/spf13/cobra"

	"github.com/ruinscan/ruinscan-go/internal/analysis"
	"github.com/ruinscan/ruinscan-go/internal/conf"
)

// Command creates the probe command, which checks service reachability.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check connectivity to the analysis service",
		Long:  "Perform a single reachability probe against the remote analysis service and print the resulting mode (online or offline).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.ProbeOnce(cmd.Context(), settings, cmd.OutOrStdout())
		},
	}
}
