package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"faultline/internal/errors"
	"faultline/internal/repo"
)

var filterProject string

var blameCmd = &cobra.Command{
	Use:   "blame <project> <revision> <file> <line>",
	Short: "Blame one line through the blame cache",
	Long: `Show the commit that last modified a line as of a revision. Results come
from the blame cache when present and are cached otherwise.

Examples:
  faultline blame web 2dc20c98 app/models/user.rb 22`,
	Args: cobra.ExactArgs(4),
	Run:  runBlame,
}

var filterCmd = &cobra.Command{
	Use:   "filter <class> <message>",
	Short: "Show the message template for an error",
	Long: `Apply the message filter dictionary to an error message and print the
template a bug would be created with.

Examples:
  faultline filter ActiveRecord::RecordNotFound "Couldn't find User with ID=42"
  faultline filter NoMethodError "undefined method 'x' for #<User:0x1234>" --project=web`,
	Args: cobra.ExactArgs(2),
	Run:  runFilter,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <project>",
	Short: "Clone or update a project's mirror",
	Long: `Fetch the project's repository into its local mirror so new revisions
can be resolved and blamed.

Examples:
  faultline fetch web`,
	Args: cobra.ExactArgs(1),
	Run:  runFetch,
}

func init() {
	filterCmd.Flags().StringVar(&filterProject, "project", "", "Honour this project's message filtering setting")

	rootCmd.AddCommand(blameCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(fetchCmd)
}

// BlameResponseCLI is the blamed commit of one line.
type BlameResponseCLI struct {
	Project  string       `json:"project"`
	Revision string       `json:"revision"`
	File     string       `json:"file"`
	Line     int          `json:"line"`
	Commit   *repo.Commit `json:"commit"`
}

func runBlame(cmd *cobra.Command, args []string) {
	start := time.Now()
	line, err := strconv.Atoi(args[3])
	if err != nil || line < 1 {
		exitOnError("parsing line", errors.New(errors.InvalidInput, "line must be a positive integer", err, nil))
	}

	a := mustOpenApp(appOptions{})
	defer a.Close()

	ctx := cmd.Context()

	_, r, err := a.registry.Project(args[0])
	exitOnError("finding project", err)

	commit, err := a.cache.Blame(ctx, r, args[1], args[2], line)
	exitOnError("blaming line", err)

	printResponse(&BlameResponseCLI{
		Project:  args[0],
		Revision: args[1],
		File:     args[2],
		Line:     line,
		Commit:   commit,
	})

	a.logger.Debug("Blame completed", "found", commit != nil, "duration", time.Since(start).Milliseconds())
}

// FilterResponseCLI is the template derived from an error message.
type FilterResponseCLI struct {
	ClassName string `json:"className"`
	Message   string `json:"message"`
	Template  string `json:"template"`
}

func runFilter(cmd *cobra.Command, args []string) {
	a := mustOpenApp(appOptions{})
	defer a.Close()

	resp := &FilterResponseCLI{ClassName: args[0], Message: args[1]}
	if filterProject != "" {
		p, _, err := a.registry.Project(filterProject)
		exitOnError("finding project", err)
		resp.Template = a.filter.Template(p, args[0], args[1])
	} else {
		resp.Template = a.filter.Apply(args[0], args[1])
	}

	if OutputFormat(formatFlag) == FormatHuman {
		printResponse(&MessageResponseCLI{Message: resp.Template})
		return
	}
	printResponse(resp)
}

func runFetch(cmd *cobra.Command, args []string) {
	start := time.Now()
	a := mustOpenApp(appOptions{})
	defer a.Close()

	ctx := cmd.Context()

	_, r, err := a.registry.Project(args[0])
	exitOnError("finding project", err)
	exitOnError("fetching repository", r.Fetch(ctx))

	printResponse(&MessageResponseCLI{Message: "Fetched " + args[0], ID: r.Identity()})
	a.logger.Debug("Fetch completed", "project", args[0], "duration", time.Since(start).Milliseconds())
}
