// Package cmd provides the command-line interface for loom.
//
// Configuration System:
//
//	The CLI reads configuration from several sources, highest priority first:
//	1. Command-line flags (--config, --port, --log-level, etc.)
//	2. LOOM_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (LOOM_SERVER_PORT, etc.)
//	4. Configuration file (.loom.yml)
//
// Environment Variables:
//
//	LOOM_CONFIG_FILE: Path to custom configuration file
//	LOOM_SERVER_PORT: Override server port
//	LOOM_SERVER_HOST: Override server host
//	LOOM_RENDER_TICK: Override the re-render coalescing window
//	And the rest following the LOOM_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Compile, render and serve loom templates",
	Long: `Loom compiles HTML templates with embedded Go into render functions,
renders them into a live document and keeps that document in step with
every re-render through minimal update records.

Quick Start:
  loom compile page.loom            Print the generated render function
  loom render page.loom -P who=ada  Render once and print the HTML
  loom watch page.loom              Re-render on change, print records
  loom serve page.loom              Serve the template as a live page`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .loom.yml, can also use LOOM_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points viper at the config file and the LOOM_ environment.
// A missing config file is not an error.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("LOOM_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".loom")
	}

	viper.SetEnvPrefix("LOOM")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
