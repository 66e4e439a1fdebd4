package serve

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ruinscan/ruinscan-go/internal/analysis"
	"github.com/ruinscan/ruinscan-go/internal/conf"
)

// Command creates the serve command, which runs the browser UI API server.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis UI server",
		Long:  "Start the HTTP server backing the browser UI: image upload, segmentation, artifact detection and combined results.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.Serve(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Address, "address", viper.GetString("webserver.address"), "Listen address and port of the UI server")
	cmd.Flags().DurationVar(&settings.WebServer.PreviewTTL, "previewttl", viper.GetDuration("webserver.previewttl"), "How long uploaded image previews stay cached")

	if err := viper.BindPFlag("webserver.address", cmd.Flags().Lookup("address")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("webserver.previewttl", cmd.Flags().Lookup("previewttl")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
