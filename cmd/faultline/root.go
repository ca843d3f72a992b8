package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"faultline/internal/config"
	"faultline/internal/paths"
	"faultline/internal/slogutil"
	"faultline/internal/version"
)

var (
	// dataDirFlag is the --data-dir flag value
	dataDirFlag string
	verbosity   int
	quiet       bool
	// formatFlag selects json or human output
	formatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "faultline",
	Short: "faultline - error occurrence triage",
	Long: `faultline groups error occurrences into bugs. Each occurrence is blamed
against the project's git history to find the line most likely responsible,
and occurrences sharing an environment, error class, blamed line, and blamed
commit land on the same bug.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("faultline version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", paths.DefaultDataDir, "Directory holding the database, mirrors, and logs")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", string(FormatHuman), "Output format (json, human)")
}

// cliLevel returns the level requested by flags, or nil when the
// configured level applies.
func cliLevel() *slog.Level {
	if verbosity == 0 && !quiet {
		return nil
	}
	level := slogutil.LevelFromVerbosity(verbosity, quiet)
	return &level
}

// loadConfig reads the configuration of the selected data directory,
// falling back to defaults when none was saved.
func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(dataDirFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// printResponse formats resp with the selected output format and prints it.
func printResponse(resp interface{}) {
	output, err := FormatResponse(resp, OutputFormat(formatFlag))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(output)
}

// exitOnError prints err with its suggested fixes and exits.
func exitOnError(what string, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", what, err)
	for _, fix := range suggestedFixes(err) {
		fmt.Fprintf(os.Stderr, "  hint: %s\n", fix)
	}
	os.Exit(1)
}
