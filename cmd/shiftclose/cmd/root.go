package cmd

import (
	"fmt"
	"os"

	"fuel-shift-reconciliation/cmd/shiftclose/config"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shiftclose",
	Short: "Fuel station shift closure tool",
	Long: `Shiftclose reconciles and records the closure of a fuel station shift:
hose meter readings, product sales, tank levels, declared payments and cash.

Settings come from an optional config file, SHIFTCLOSE_* environment
variables (a .env file is loaded when present) and command-line flags.

Examples:
  shiftclose close --request shift.json --fixtures station.json
  shiftclose close --request shift.json --meters hoses.csv --output-format json
  shiftclose migrate --fixtures station.json
  shiftclose serve
  shiftclose version`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return NewCLIErrorHandler().HandleError(err)
	}
	return 0
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in the .env file, config file and ENV variables.
func initConfig() {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}
	}

	config.BindEnv(viper.GetViper())

	logConfig, err := config.CreateLoggerConfig(viper.GetViper(), viper.GetBool("verbose"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(4)
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(4)
	}
	logger.SetGlobalLogger(log)

	if cfgFile != "" {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
