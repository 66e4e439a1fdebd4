package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ruinscan/ruinscan-go/cmd/analyze"
	"github.com/ruinscan/ruinscan-go/cmd/probe"
	"github.com/ruinscan/ruinscan-go/cmd/serve"
	"github.com/ruinscan/ruinscan-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ruinscan",
		Short: "RuinScan CLI",
		Long:  "Archaeological image analysis client: terrain segmentation and artifact detection with automatic offline fallback.",
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		serve.Command(settings),
		analyze.Command(settings),
		probe.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}
		// Command-line arguments take precedence over file and env values.
		return viper.Unmarshal(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Service.BaseURL, "service", viper.GetString("service.baseurl"), "Base URL of the remote analysis service")
	rootCmd.PersistentFlags().DurationVar(&settings.Service.Timeout, "timeout", viper.GetDuration("service.timeout"), "Timeout for remote service requests")
	rootCmd.PersistentFlags().Uint64Var(&settings.Synthetic.Seed, "seed", viper.GetUint64("synthetic.seed"), "Seed for synthetic results, 0 for random")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("service.baseurl", rootCmd.PersistentFlags().Lookup("service")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("service.timeout", rootCmd.PersistentFlags().Lookup("timeout")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("synthetic.seed", rootCmd.PersistentFlags().Lookup("seed")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
