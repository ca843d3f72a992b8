package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"faultline/internal/errors"
	"faultline/internal/model"
	"faultline/internal/storage"
)

var (
	deployBuild string
	deployAt    string
	bugsOpen    bool
	bugsLimit   int
)

var deployCmd = &cobra.Command{
	Use:   "deploy <project> <environment> <revision>",
	Short: "Record a deploy",
	Long: `Record that a revision was deployed to an environment. Fixed bugs of the
environment are marked as fix-deployed, and later occurrences carrying the
build identifier are attributed to this deploy.

Examples:
  faultline deploy web production 2dc20c984283bede1f45863b8f3b4dd9b5b554cc
  faultline deploy android production 5e1f0a7 --build=4.2.0-1187`,
	Args: cobra.ExactArgs(3),
	Run:  runDeploy,
}

var fixCmd = &cobra.Command{
	Use:   "fix <bug-id>",
	Short: "Mark a bug fixed",
	Args:  cobra.ExactArgs(1),
	Run:   runFix,
}

var dupCmd = &cobra.Command{
	Use:   "dup <bug-id> <target-id>",
	Short: "Mark a bug as a duplicate of another",
	Long: `Mark a bug as a duplicate. Future occurrences of the bug are recorded on
the target. The target must be in the same environment and must not itself
resolve back to the bug.

Examples:
  faultline dup 12 7`,
	Args: cobra.ExactArgs(2),
	Run:  runDup,
}

var bugCmd = &cobra.Command{
	Use:   "bug <bug-id>",
	Short: "Show a bug and its history",
	Args:  cobra.ExactArgs(1),
	Run:   runBug,
}

var bugsCmd = &cobra.Command{
	Use:   "bugs <project> <environment>",
	Short: "List the bugs of an environment",
	Long: `List the bugs of an environment, most recent activity first.

Examples:
  faultline bugs web production
  faultline bugs web production --open --limit=20`,
	Args: cobra.ExactArgs(2),
	Run:  runBugs,
}

func init() {
	deployCmd.Flags().StringVar(&deployBuild, "build", "", "Build identifier reported by clients of this deploy")
	deployCmd.Flags().StringVar(&deployAt, "at", "", "Deploy time (RFC 3339, default now)")
	bugsCmd.Flags().BoolVar(&bugsOpen, "open", false, "Only open bugs")
	bugsCmd.Flags().IntVar(&bugsLimit, "limit", 100, "Maximum bugs to return")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(dupCmd)
	rootCmd.AddCommand(bugCmd)
	rootCmd.AddCommand(bugsCmd)
}

// actor names the person running the command in bug events.
func actor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

func parseBugID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		exitOnError("parsing bug id", errors.New(errors.InvalidInput, fmt.Sprintf("invalid bug id %q", s), err, nil))
	}
	return id
}

// environment returns the environment of a configured project.
func (a *app) environment(cmd *cobra.Command, projectID, name string) *model.Environment {
	if _, _, err := a.registry.Project(projectID); err != nil {
		exitOnError("finding project", err)
	}
	env, err := storage.NewEnvironmentRepository(a.db).FindOrCreate(cmd.Context(), projectID, name)
	exitOnError("finding environment", err)
	return env
}

// DeployResponseCLI is a recorded deploy.
type DeployResponseCLI struct {
	Project     string        `json:"project"`
	Environment string        `json:"environment"`
	Deploy      *model.Deploy `json:"deploy"`
}

func runDeploy(cmd *cobra.Command, args []string) {
	a := mustOpenApp(appOptions{})
	defer a.Close()

	d := &model.Deploy{Revision: args[2], Build: deployBuild}
	if deployAt != "" {
		at, err := time.Parse(time.RFC3339, deployAt)
		if err != nil {
			exitOnError("parsing deploy time", errors.New(errors.InvalidInput, "--at must be RFC 3339", err, nil))
		}
		d.DeployedAt = at
	}

	env := a.environment(cmd, args[0], args[1])
	d.EnvironmentID = env.ID
	exitOnError("recording deploy", storage.NewDeployRepository(a.db).Create(cmd.Context(), d))

	a.logger.Info("Deploy recorded", "project", args[0], "environment", args[1], "revision", d.Revision, "deployId", d.ID)
	printResponse(&DeployResponseCLI{Project: args[0], Environment: args[1], Deploy: d})
}

func runFix(cmd *cobra.Command, args []string) {
	id := parseBugID(args[0])
	a := mustOpenApp(appOptions{})
	defer a.Close()

	exitOnError("fixing bug", storage.NewBugRepository(a.db).MarkFixed(cmd.Context(), id, actor()))
	printResponse(&MessageResponseCLI{Message: fmt.Sprintf("Bug #%d marked fixed", id), ID: args[0]})
}

func runDup(cmd *cobra.Command, args []string) {
	id, target := parseBugID(args[0]), parseBugID(args[1])
	a := mustOpenApp(appOptions{})
	defer a.Close()

	exitOnError("marking duplicate", storage.NewBugRepository(a.db).MarkDuplicate(cmd.Context(), id, target, actor()))
	printResponse(&MessageResponseCLI{Message: fmt.Sprintf("Bug #%d marked duplicate of #%d", id, target), ID: args[0]})
}

func runBug(cmd *cobra.Command, args []string) {
	id := parseBugID(args[0])
	a := mustOpenApp(appOptions{})
	defer a.Close()

	bugs := storage.NewBugRepository(a.db)
	bug, err := bugs.Get(cmd.Context(), id)
	exitOnError("reading bug", err)
	if bug == nil {
		exitOnError("reading bug", errors.New(errors.NotFound, fmt.Sprintf("bug %d not found", id), nil, nil))
	}
	events, err := bugs.Events(cmd.Context(), id)
	exitOnError("reading bug history", err)

	printResponse(&BugResponseCLI{Bug: bug, Events: events})
}

func runBugs(cmd *cobra.Command, args []string) {
	a := mustOpenApp(appOptions{})
	defer a.Close()

	env := a.environment(cmd, args[0], args[1])
	list, err := storage.NewBugRepository(a.db).ListByEnvironment(cmd.Context(), env.ID, bugsOpen, bugsLimit)
	exitOnError("listing bugs", err)

	printResponse(&BugsListResponseCLI{Project: args[0], Environment: args[1], Bugs: list})
}
