// Package cmd holds the nexasec command line: serve runs the API, migrate
// prepares the database and version prints build information.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nexasecurity/nexasec/internal/config"
)

// Execute is the main entry point of the nexasec binary.
func Execute(args []string) {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return newRootCmdWithViper(viper.New())
}

// newRootCmdWithViper creates the root command. Every subcommand shares v, so
// flags bound here and in the subcommands land in one Config.
func newRootCmdWithViper(v *viper.Viper) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "nexasec",
		Short:        "NexaSec runs security scans and turns their findings into reports.",
		SilenceUsage: true,
	}
	rootCmd.Version = versionString()
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: json|console")
	bindFlag(v, rootCmd, "log.level", "log-level")
	bindFlag(v, rootCmd, "log.format", "log-format")

	load := func() (*config.Config, error) {
		return config.Load(v, configFile)
	}
	rootCmd.AddCommand(newServeCmd(v, load))
	rootCmd.AddCommand(newMigrateCmd(load))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// bindFlag binds a persistent or local flag of cmd to key. Unset flags do not
// override the config file or the environment.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	f := cmd.PersistentFlags().Lookup(flag)
	if f == nil {
		f = cmd.Flags().Lookup(flag)
	}
	if f == nil {
		panic("unknown flag " + flag)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
