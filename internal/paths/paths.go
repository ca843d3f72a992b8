package paths

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	// DefaultDataDir is the data directory used when none is configured
	DefaultDataDir = ".faultline"

	databaseFile = "faultline.db"
	jobsFile     = "jobs.db"
	configFile   = "config.json"
	projectsFile = "projects.toml"
	mirrorsDir   = "mirrors"
	locksDir     = "locks"
	logsDir      = "logs"
	ingestLog    = "ingest.log"
)

// ConfigPath returns <dataDir>/config.json
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFile)
}

// DatabasePath returns <dataDir>/faultline.db
func DatabasePath(dataDir string) string {
	return filepath.Join(dataDir, databaseFile)
}

// JobsDatabasePath returns <dataDir>/jobs.db
func JobsDatabasePath(dataDir string) string {
	return filepath.Join(dataDir, jobsFile)
}

// ProjectsPath returns the default project definitions file, <dataDir>/projects.toml
func ProjectsPath(dataDir string) string {
	return filepath.Join(dataDir, projectsFile)
}

// RepositoryHash identifies a repository by the SHA-1 of its URL.
// The hash doubles as the blame cache's repository identity.
func RepositoryHash(url string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])
}

// MirrorPath returns the bare mirror location for a repository hash
func MirrorPath(dataDir, repoHash string) string {
	return filepath.Join(dataDir, mirrorsDir, repoHash+".git")
}

// LocksDir returns <dataDir>/locks
func LocksDir(dataDir string) string {
	return filepath.Join(dataDir, locksDir)
}

// IngestLogPath returns the ingest log inside logDir
func IngestLogPath(logDir string) string {
	return filepath.Join(logDir, ingestLog)
}

// EnsureDataDir creates the data directory and its fixed subdirectories
func EnsureDataDir(dataDir string) error {
	for _, dir := range []string{
		dataDir,
		filepath.Join(dataDir, mirrorsDir),
		filepath.Join(dataDir, locksDir),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// EnsureLogsDir creates <dataDir>/logs and returns it
func EnsureLogsDir(dataDir string) (string, error) {
	dir := filepath.Join(dataDir, logsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// NormalizePath converts a backtrace path to the forward-slash form used for
// classification and blame: backslashes become slashes, "./" prefixes and
// duplicate separators are removed.
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	abs := strings.HasPrefix(p, "/")
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	if !abs {
		p = strings.TrimPrefix(p, "./")
	}
	return p
}

// IsOutsideRepo reports whether a normalized path escapes the repository root.
func IsOutsideRepo(p string) bool {
	return strings.HasPrefix(p, "/") || p == ".." || strings.HasPrefix(p, "../")
}

// HasPathPrefix reports whether p equals prefix or lives below it.
func HasPathPrefix(p, prefix string) bool {
	prefix = strings.TrimSuffix(NormalizePath(prefix), "/")
	if prefix == "" {
		return false
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
