// Package backtrace converts backtrace frames into the file/line pair stored on a bug.
package backtrace

import (
	"fmt"

	"faultline/internal/model"
)

// UnknownFile is the placeholder file for frames of an unrecognised kind.
const UnknownFile = "(unknown)"

// Location is a displayable file/line pair. Special is set when File is a
// placeholder rather than a source path.
type Location struct {
	File    string
	Line    int
	Special bool
}

// Display converts a frame into the location recorded on a bug.
//
// Obfuscated Java frames may carry negative line numbers; the absolute value
// is used. This is kept for compatibility with stored bugs and is not applied
// to other frame kinds.
func Display(f model.Frame) Location {
	switch f.Kind {
	case model.FrameNormal:
		return Location{File: f.File, Line: f.LineOr(0)}
	case model.FrameObfuscated:
		line := f.LineOr(0)
		if line < 0 {
			line = -line
		}
		return Location{File: f.File, Line: line, Special: true}
	case model.FrameMinified:
		return Location{File: f.URL, Line: f.LineOr(0), Special: true}
	case model.FrameAddress:
		return Location{File: FormatAddress(f.Address), Line: 1, Special: true}
	default:
		return Location{File: UnknownFile, Line: 1, Special: true}
	}
}

// FormatAddress renders a return address as 0x followed by at least eight
// uppercase hex digits.
func FormatAddress(addr uint64) string {
	return fmt.Sprintf("0x%08X", addr)
}
