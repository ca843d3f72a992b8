package repo

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"time"
)

// parsePorcelain parses the output of `git blame --porcelain` for a single
// line range and returns the commit of its first entry, or nil if the output
// holds no entry.
func parsePorcelain(output []byte) (*Commit, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))

	var commit *Commit
	for scanner.Scan() {
		line := scanner.Text()

		// Header line: <40 hex sha> <orig line> <final line> [<count>]
		if commit == nil {
			if len(line) >= 40 && isHexString(line[:40]) {
				commit = &Commit{SHA: line[:40]}
			}
			continue
		}

		// The content line ends the first entry
		if strings.HasPrefix(line, "\t") {
			break
		}

		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "author":
			commit.AuthorName = value
		case "author-mail":
			commit.AuthorEmail = strings.Trim(value, "<>")
		case "committer-time":
			secs, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, err
			}
			commit.CommitterDate = time.Unix(secs, 0).UTC()
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return commit, nil
}

// parseLogRecord parses a `git log --format=%H%x00%ct%x00%an%x00%ae` line.
func parseLogRecord(output string) (*Commit, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, nil
	}

	fields := strings.SplitN(output, "\x00", 4)
	if len(fields) != 4 || len(fields[0]) < 40 || !isHexString(fields[0]) {
		return nil, strconv.ErrSyntax
	}

	secs, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, err
	}

	return &Commit{
		SHA:           fields[0],
		CommitterDate: time.Unix(secs, 0).UTC(),
		AuthorName:    fields[2],
		AuthorEmail:   fields[3],
	}, nil
}

func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
