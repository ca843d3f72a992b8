package repo

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const porcelainSample = `2dc20c984283bede1f45863b8f3b4dd9b5b554cc 12 12 1
author Jane Doe
author-mail <jane@example.com>
author-time 1700000000
author-tz +0100
committer John Roe
committer-mail <john@example.com>
committer-time 1700003600
committer-tz +0000
summary Fix nil user
previous 0e1b7d2fbb3c39a5dcd3e5e4e1f3a5a4b2c1d0e9 app/models/user.rb
filename app/models/user.rb
	    name.upcase
`

func TestParsePorcelain(t *testing.T) {
	got, err := parsePorcelain([]byte(porcelainSample))
	if err != nil {
		t.Fatalf("parsePorcelain() error = %v", err)
	}

	want := &Commit{
		SHA:           "2dc20c984283bede1f45863b8f3b4dd9b5b554cc",
		CommitterDate: time.Unix(1700003600, 0).UTC(),
		AuthorName:    "Jane Doe",
		AuthorEmail:   "jane@example.com",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("commit mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePorcelain_Empty(t *testing.T) {
	got, err := parsePorcelain(nil)
	if err != nil {
		t.Fatalf("parsePorcelain() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected nil commit, got %+v", got)
	}
}

func TestParsePorcelain_BadTime(t *testing.T) {
	input := "2dc20c984283bede1f45863b8f3b4dd9b5b554cc 1 1 1\ncommitter-time soon\n\tx\n"
	if _, err := parsePorcelain([]byte(input)); err == nil {
		t.Error("expected error for malformed committer-time")
	}
}

func TestParseLogRecord(t *testing.T) {
	got, err := parseLogRecord("2dc20c984283bede1f45863b8f3b4dd9b5b554cc\x001700003600\x00Jane Doe\x00jane@example.com\n")
	if err != nil {
		t.Fatalf("parseLogRecord() error = %v", err)
	}
	if got.SHA != "2dc20c984283bede1f45863b8f3b4dd9b5b554cc" || got.AuthorName != "Jane Doe" {
		t.Errorf("unexpected commit %+v", got)
	}
	if !got.CommitterDate.Equal(time.Unix(1700003600, 0)) {
		t.Errorf("CommitterDate = %v", got.CommitterDate)
	}

	if c, err := parseLogRecord(""); c != nil || err != nil {
		t.Errorf("empty record = %v, %v", c, err)
	}
	if _, err := parseLogRecord("nothex\x001\x00a\x00b"); err == nil {
		t.Error("expected error for malformed record")
	}
}
