package diffview

import (
	"regexp"
	"strconv"
	"strings"
)

// RowKind classifies a rendered diff line
type RowKind string

const (
	RowHunk    RowKind = "hunk"
	RowMeta    RowKind = "meta"
	RowAdd     RowKind = "add"
	RowDel     RowKind = "del"
	RowContext RowKind = "context"
)

// Row is one display line of a parsed diff. Line numbers start at 1;
// zero means the row has no number on that side.
type Row struct {
	Kind    RowKind
	OldLine int
	NewLine int
	Text    string
}

// HasOld reports whether the row carries an old-side line number
func (r Row) HasOld() bool { return r.OldLine > 0 }

// HasNew reports whether the row carries a new-side line number
func (r Row) HasNew() bool { return r.NewLine > 0 }

// Stats counts added and deleted lines
type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Result is the parsed form of one file's diff
type Result struct {
	Rows  []Row
	Stats Stats
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// fileHeaderPrefixes are structural lines that produce no row
var fileHeaderPrefixes = []string{"diff --git", "index ", "--- ", "+++ "}

// scanner holds the parse state while walking the lines of a diff
type scanner struct {
	inHunk  bool
	oldLine int
	newLine int
	rows    []Row
	stats   Stats
}

// Parse converts the unified diff of a single file into rows and stats.
func Parse(text string) Result {
	s := &scanner{}
	for _, line := range splitLines(text) {
		s.scan(line)
	}
	return Result{Rows: s.rows, Stats: s.stats}
}

func (s *scanner) scan(line string) {
	if isFileHeader(line) {
		return
	}

	if m := hunkHeader.FindStringSubmatch(line); m != nil {
		s.oldLine, _ = strconv.Atoi(m[1]) // regex guarantees digits
		s.newLine, _ = strconv.Atoi(m[3])
		s.inHunk = true
		s.emit(Row{Kind: RowHunk, Text: line})
		return
	}

	switch {
	case strings.HasPrefix(line, `\`):
		// "\ No newline at end of file"
		s.emit(Row{Kind: RowMeta, Text: line})
	case isAddition(line):
		s.emit(Row{Kind: RowAdd, NewLine: s.newLine, Text: line[1:]})
		s.newLine++
		s.stats.Additions++
	case isDeletion(line):
		s.emit(Row{Kind: RowDel, OldLine: s.oldLine, Text: line[1:]})
		s.oldLine++
		s.stats.Deletions++
	case s.inHunk:
		s.emit(Row{
			Kind:    RowContext,
			OldLine: s.oldLine,
			NewLine: s.newLine,
			Text:    strings.TrimPrefix(line, " "),
		})
		s.oldLine++
		s.newLine++
	default:
		s.emit(Row{Kind: RowMeta, Text: line})
	}
}

func (s *scanner) emit(r Row) {
	s.rows = append(s.rows, r)
}

// CountStats counts additions and deletions without building rows.
// It always agrees with Parse(text).Stats.
func CountStats(text string) Stats {
	var stats Stats
	for _, line := range splitLines(text) {
		switch {
		case isAddition(line):
			stats.Additions++
		case isDeletion(line):
			stats.Deletions++
		}
	}
	return stats
}

// splitLines splits on newlines, dropping the empty segment a final
// terminator produces. Carriage returns stay part of the line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func isFileHeader(line string) bool {
	for _, prefix := range fileHeaderPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func isAddition(line string) bool {
	return strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++")
}

func isDeletion(line string) bool {
	return strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---")
}
