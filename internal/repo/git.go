package repo

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"faultline/internal/config"
	"faultline/internal/errors"
	"faultline/internal/lock"
	"faultline/internal/paths"
	"faultline/internal/telemetry"
)

const (
	// DefaultBlameTimeout bounds blame and resolve commands
	DefaultBlameTimeout = 5000 * time.Millisecond
	// DefaultFetchTimeout bounds clone and update commands
	DefaultFetchTimeout = 120 * time.Second
	// DefaultLockTimeout bounds the wait for the mirror lock
	DefaultLockTimeout = 60 * time.Second

	logFormat = "--format=%H%x00%ct%x00%an%x00%ae"
)

// Options configures git repository access.
type Options struct {
	DataDir      string
	Binary       string
	BlameTimeout time.Duration
	FetchTimeout time.Duration
	LockTimeout  time.Duration
}

// OptionsFromConfig derives git options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DataDir:      cfg.DataDir,
		Binary:       cfg.Git.Binary,
		BlameTimeout: time.Duration(cfg.Git.BlameTimeoutMs) * time.Millisecond,
		FetchTimeout: time.Duration(cfg.Git.FetchTimeoutMs) * time.Millisecond,
		LockTimeout:  time.Duration(cfg.Git.LockTimeoutMs) * time.Millisecond,
	}
}

// GitRepository implements Repository over a bare mirror maintained with the
// git binary under <dataDir>/mirrors.
type GitRepository struct {
	url      string
	identity string
	mirror   string
	locksDir string
	opts     Options
	logger   *slog.Logger
}

// NewGitRepository creates a repository for url. The mirror is cloned lazily
// on first use.
func NewGitRepository(url string, opts Options, logger *slog.Logger) *GitRepository {
	if opts.Binary == "" {
		opts.Binary = "git"
	}
	if opts.BlameTimeout <= 0 {
		opts.BlameTimeout = DefaultBlameTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	identity := paths.RepositoryHash(url)
	return &GitRepository{
		url:      url,
		identity: identity,
		mirror:   paths.MirrorPath(opts.DataDir, identity),
		locksDir: paths.LocksDir(opts.DataDir),
		opts:     opts,
		logger:   logger.With("repository", url),
	}
}

// Identity returns the SHA-1 of the repository URL.
func (g *GitRepository) Identity() string {
	return g.identity
}

// URL returns the remote the mirror is cloned from.
func (g *GitRepository) URL() string {
	return g.url
}

// MirrorPath returns the location of the bare mirror.
func (g *GitRepository) MirrorPath() string {
	return g.mirror
}

// Resolve returns the commit named by revision. An unknown revision causes one
// fetch and a retry before reporting not found.
func (g *GitRepository) Resolve(ctx context.Context, revision string) (*Commit, error) {
	if !validRevision(revision) {
		return nil, nil
	}
	if err := g.ensureMirror(ctx); err != nil {
		return nil, err
	}

	args := []string{"log", "-1", "--no-walk", logFormat, revision + "^{commit}", "--"}
	out, stderr, err := g.run(ctx, g.opts.BlameTimeout, g.mirror, args...)
	if err != nil && isUnknownRevision(stderr) {
		if ferr := g.Fetch(ctx); ferr != nil {
			return nil, ferr
		}
		out, stderr, err = g.run(ctx, g.opts.BlameTimeout, g.mirror, args...)
	}
	if err != nil {
		if isUnknownRevision(stderr) {
			return nil, nil
		}
		return nil, err
	}

	commit, err := parseLogRecord(string(out))
	if err != nil {
		return nil, errors.New(errors.InternalError, "unparseable git log output", err, nil)
	}
	return commit, nil
}

// Blame returns the commit that last changed line of file as of revision,
// following moves and copies. Missing files, lines past the end of the file
// and unknown revisions yield (nil, nil).
func (g *GitRepository) Blame(ctx context.Context, revision, file string, line int) (*Commit, error) {
	file = paths.NormalizePath(file)
	if !validRevision(revision) || file == "" || line < 1 || paths.IsOutsideRepo(file) {
		return nil, nil
	}
	if err := g.ensureMirror(ctx); err != nil {
		return nil, err
	}

	lineRange := fmt.Sprintf("%d,%d", line, line)
	args := []string{"blame", "--porcelain", "-M", "-C", "-L", lineRange, revision, "--", file}

	out, stderr, err := g.run(ctx, g.opts.BlameTimeout, g.mirror, args...)
	if err != nil && isUnknownRevision(stderr) {
		if ferr := g.Fetch(ctx); ferr != nil {
			return nil, ferr
		}
		out, stderr, err = g.run(ctx, g.opts.BlameTimeout, g.mirror, args...)
	}
	if err != nil {
		if isUnknownRevision(stderr) || isMissingTarget(stderr) {
			return nil, nil
		}
		if errors.HasCode(err, errors.Timeout) {
			return nil, err
		}
		return nil, errors.New(errors.BlameUnavailable, "git blame failed", err, nil).
			WithDetails(map[string]interface{}{"file": file, "line": line, "revision": revision})
	}

	commit, err := parsePorcelain(out)
	if err != nil {
		return nil, errors.New(errors.BlameUnavailable, "unparseable blame output", err, nil)
	}
	return commit, nil
}

// Fetch clones the mirror if it does not exist and updates it otherwise. The
// update runs under a per-repository file lock shared by all processes using
// the same data directory.
func (g *GitRepository) Fetch(ctx context.Context) error {
	l, err := lock.Acquire(ctx, g.locksDir, g.identity, g.opts.LockTimeout)
	if err != nil {
		return err
	}
	defer l.Release()

	if g.hasMirror() {
		g.logger.Debug("Updating mirror", "mirror", g.mirror)
		_, _, err := g.run(ctx, g.opts.FetchTimeout, g.mirror, "remote", "update", "--prune")
		return err
	}

	parent := filepath.Dir(g.mirror)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("creating mirrors directory: %w", err)
	}

	g.logger.Info("Cloning mirror", "mirror", g.mirror)
	if _, _, err := g.run(ctx, g.opts.FetchTimeout, parent, "clone", "--mirror", "--quiet", g.url, g.mirror); err != nil {
		_ = os.RemoveAll(g.mirror)
		return err
	}
	return nil
}

func (g *GitRepository) ensureMirror(ctx context.Context) error {
	if g.hasMirror() {
		return nil
	}
	return g.Fetch(ctx)
}

func (g *GitRepository) hasMirror() bool {
	_, err := os.Stat(filepath.Join(g.mirror, "HEAD"))
	return err == nil
}

// run executes a git subcommand in dir with a timeout. On failure the error
// is a FaultError (TIMEOUT when the deadline passed) and stderr is returned
// for classification.
func (g *GitRepository) run(ctx context.Context, timeout time.Duration, dir string, args ...string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.opts.Binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.logger.Debug("Executing git command", "args", args, "timeout", timeout.String())

	start := time.Now()
	err := cmd.Run()
	telemetry.ObserveGit(args[0], start)

	if err == nil {
		return stdout.Bytes(), "", nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, "", errors.New(errors.Timeout, "git command timed out", err, nil).
			WithDetails(map[string]interface{}{"args": args, "timeout": timeout.String()})
	}
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		return nil, msg, errors.New(errors.InternalError, "git command failed", err, nil).
			WithDetails(map[string]interface{}{
				"args":   args,
				"stderr": msg,
				"exit":   strconv.Itoa(exitErr.ExitCode()),
			})
	}

	return nil, "", errors.New(errors.InternalError, "failed to execute git command", err, nil)
}

// validRevision rejects empty revisions and anything git would parse as an
// option.
func validRevision(rev string) bool {
	return rev != "" && !strings.HasPrefix(rev, "-") && !strings.ContainsAny(rev, " \t\n\x00")
}

func isUnknownRevision(stderr string) bool {
	return strings.Contains(stderr, "bad revision") ||
		strings.Contains(stderr, "unknown revision") ||
		strings.Contains(stderr, "bad object") ||
		strings.Contains(stderr, "ambiguous argument") ||
		strings.Contains(stderr, "invalid object name")
}

func isMissingTarget(stderr string) bool {
	return strings.Contains(stderr, "no such path") ||
		strings.Contains(stderr, "has only") ||
		strings.Contains(stderr, "no such file")
}
