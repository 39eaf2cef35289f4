package cmd

import (
	"fmt"
	"os"

	"ledger-reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// Root flags shared by every engine command
	dbPath          string
	migrationsPath  string
	dryRun          bool
	write           bool
	limit           int
	dateWindow      int
	minAmount       string
	excludeAccounts []string
	overrideKey     string
	chunkSize       int
	outputFormat    string
	outputFile      string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Ledger reconciliation engine",
	Long: `Reconciler matches unlinked settlement records to the obligations they
settle, pairs failed transfers with their reversals, classifies duplicate
settlement groups, and proposes dispositions for overpayments.

Every command previews by default. Nothing is written unless --write is
given, and destructive operations additionally require an authorization
key checked against the configured allow-list.

Examples:
  reconciler run --db ledger.db
  reconciler match --db ledger.db --date-window 3 --output-format json
  reconciler duplicates --db ledger.db --write --override-key $KEY
  reconciler version`,
	Version: getVersionString(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Store flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "reconciler.db", "path to the sqlite database")
	rootCmd.PersistentFlags().StringVar(&migrationsPath, "migrations", "migrations", "path to the migration files")

	// Run mode flags
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", true, "preview decisions without writing (default)")
	rootCmd.PersistentFlags().BoolVar(&write, "write", false, "apply decisions to the store")
	rootCmd.PersistentFlags().StringVar(&overrideKey, "override-key", "", "authorization key for guarded operation families")
	rootCmd.PersistentFlags().IntVar(&chunkSize, "chunk-size", 1000, "rows per apply transaction")

	// Selection flags
	rootCmd.PersistentFlags().IntVar(&limit, "limit", 0, "cap the number of rows processed (0 = all)")
	rootCmd.PersistentFlags().StringSliceVar(&excludeAccounts, "exclude-account", nil, "ledger account to skip (repeatable)")

	// Matching threshold flags
	rootCmd.PersistentFlags().IntVar(&dateWindow, "date-window", -1, "date window in days for amount matching (-1 = unrestricted)")
	rootCmd.PersistentFlags().StringVar(&minAmount, "min-amount", "0", "ignore settlements below this amount")

	// Output flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("migrations", rootCmd.PersistentFlags().Lookup("migrations"))
	viper.BindPFlag("dry-run", rootCmd.PersistentFlags().Lookup("dry-run"))
	viper.BindPFlag("write", rootCmd.PersistentFlags().Lookup("write"))
	viper.BindPFlag("override-key", rootCmd.PersistentFlags().Lookup("override-key"))
	viper.BindPFlag("chunk-size", rootCmd.PersistentFlags().Lookup("chunk-size"))
	viper.BindPFlag("limit", rootCmd.PersistentFlags().Lookup("limit"))
	viper.BindPFlag("exclude-account", rootCmd.PersistentFlags().Lookup("exclude-account"))
	viper.BindPFlag("date-window", rootCmd.PersistentFlags().Lookup("date-window"))
	viper.BindPFlag("min-amount", rootCmd.PersistentFlags().Lookup("min-amount"))
	viper.BindPFlag("output-format", rootCmd.PersistentFlags().Lookup("output-format"))
	viper.BindPFlag("output-file", rootCmd.PersistentFlags().Lookup("output-file"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	viper.SetEnvPrefix("RECONCILER")
	viper.AutomaticEnv()

	level := logger.InfoLevel
	if viper.GetBool("verbose") {
		level = logger.DebugLevel
	}
	if log, err := logger.New(&logger.Config{Level: level, Format: logger.TextFormat}); err == nil {
		logger.SetGlobal(log)
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
