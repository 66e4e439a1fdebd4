package analyze

import (
	"github.com/spf13/cobra"

	"github.com/ruinscan/ruinscan-go/internal/analysis"
	"github.com/ruinscan/ruinscan-go/internal/conf"
)

// Command creates the analyze command for one-shot file analysis.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [image file]",
		Short: "Analyze a single image file",
		Long:  "Run upload, segmentation and artifact detection for one image and print the combined summary as JSON. Falls back to synthetic results when the service is unreachable.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.AnalyzeFile(cmd.Context(), settings, args[0], cmd.OutOrStdout())
		},
	}
}
