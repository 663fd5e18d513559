package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sofmeright/stowage/src/config"
	"github.com/sofmeright/stowage/src/log"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stowage",
	Short: "Pipeline image builder",
	Long:  "Stowage turns pipeline Docker settings into a Dockerfile, requirement manifests and a build context, and builds them with the stack's image builder.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetLevel(verbose, quiet)

		// Skip config loading for commands that don't need it.
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		warnings, err := config.Validate(cfg)
		for _, w := range warnings {
			logrus.Warn(w)
		}
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .stowage.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only print warnings and errors")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
