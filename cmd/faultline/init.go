package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"faultline/internal/config"
	"faultline/internal/paths"
	"faultline/internal/project"
	"faultline/internal/slogutil"
)

var (
	initForce bool

	projectName            string
	projectFilter          []string
	projectWhitelist       []string
	projectNoMessageFilter bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a data directory",
	Long: `Create the data directory with a default config.json and an empty
projects.toml. Running init on an initialized directory is a no-op unless
--force is given.

Examples:
  faultline init
  faultline init --data-dir=/var/lib/faultline`,
	Args: cobra.NoArgs,
	Run:  runInit,
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage project definitions",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <id> <repository-url>",
	Short: "Add a project",
	Long: `Add a project to projects.toml.

Files below a --filter prefix are never blamed unless they are also below a
--whitelist prefix.

Examples:
  faultline project add web git@github.com:acme/web.git --filter=vendor --whitelist=vendor/acme
  faultline project add android https://github.com/acme/android.git --no-message-filtering`,
	Args: cobra.ExactArgs(2),
	Run:  runProjectAdd,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	Run:   runProjectList,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config.json")

	projectAddCmd.Flags().StringVar(&projectName, "name", "", "Display name")
	projectAddCmd.Flags().StringSliceVar(&projectFilter, "filter", nil, "Path prefixes excluded from blame")
	projectAddCmd.Flags().StringSliceVar(&projectWhitelist, "whitelist", nil, "Path prefixes re-admitted below a filter")
	projectAddCmd.Flags().BoolVar(&projectNoMessageFilter, "no-message-filtering", false, "Keep raw error messages as bug templates")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(projectCmd)
}

func runInit(cmd *cobra.Command, args []string) {
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDirFlag
	cfg.ProjectsFile = paths.ProjectsPath(dataDirFlag)
	logger := slogutil.NewLoggerFactory(cfg, cliLevel()).CLILogger()

	configPath := paths.ConfigPath(dataDirFlag)
	if _, err := os.Stat(configPath); err == nil && !initForce {
		fmt.Println("faultline already initialized.")
		fmt.Printf("Configuration at: %s\n", configPath)
		fmt.Println("\nRun 'faultline init --force' to reset the configuration.")
		return
	}

	exitOnError("creating data directory", paths.EnsureDataDir(dataDirFlag))
	exitOnError("writing config", cfg.Save())

	if _, err := os.Stat(cfg.ProjectsFile); os.IsNotExist(err) {
		empty, _ := project.NewCatalog()
		exitOnError("writing project definitions", empty.Save(cfg.ProjectsFile))
	}

	logger.Info("Initialized data directory", "dataDir", dataDirFlag)
	fmt.Printf("Configuration at: %s\n", configPath)
	fmt.Printf("Projects at:      %s\n", cfg.ProjectsFile)
}

func loadCatalogOrEmpty(path string) *project.Catalog {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		empty, _ := project.NewCatalog()
		return empty
	}
	catalog, err := project.LoadCatalog(path)
	exitOnError("loading projects", err)
	return catalog
}

func runProjectAdd(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	catalog := loadCatalogOrEmpty(cfg.ProjectsFile)

	p := &project.Project{
		ID:                      args[0],
		Name:                    projectName,
		RepositoryURL:           args[1],
		FilterPaths:             projectFilter,
		WhitelistPaths:          projectWhitelist,
		DisableMessageFiltering: projectNoMessageFilter,
	}
	updated, err := project.NewCatalog(append(catalog.All(), p)...)
	exitOnError("adding project", err)

	exitOnError("creating data directory", paths.EnsureDataDir(cfg.DataDir))
	exitOnError("writing project definitions", updated.Save(cfg.ProjectsFile))
	printResponse(&MessageResponseCLI{Message: "Added project " + p.ID, ID: p.ID})
}

// ProjectsResponseCLI lists project definitions.
type ProjectsResponseCLI struct {
	Projects []*project.Project `json:"projects"`
}

func runProjectList(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	printResponse(&ProjectsResponseCLI{Projects: loadCatalogOrEmpty(cfg.ProjectsFile).All()})
}
