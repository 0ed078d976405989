package diffview

import "github.com/hochfrequenz/orch-console/internal/domain"

// RevealGate tracks which too-large diff files the user asked to see.
// The zero value withholds every large file. Not safe for concurrent
// use; the owner serialises access.
type RevealGate struct {
	revealed map[string]bool
}

// Reveal opts the file at path into display. Revealing twice is a no-op.
func (g *RevealGate) Reveal(path string) {
	if g.revealed == nil {
		g.revealed = make(map[string]bool)
	}
	g.revealed[path] = true
}

// Revealed reports whether path was explicitly revealed
func (g *RevealGate) Revealed(path string) bool {
	return g.revealed[path]
}

// Reset withholds every large file again
func (g *RevealGate) Reset() {
	g.revealed = nil
}

// Withheld reports whether the body of file must not be shown
func (g *RevealGate) Withheld(file domain.DiffFile) bool {
	return file.TooLarge && !g.Revealed(file.Path)
}

// Visible parses the file if it may be shown. The second return value
// is false when the file is withheld; the Result is then empty.
func (g *RevealGate) Visible(file domain.DiffFile) (Result, bool) {
	if g.Withheld(file) {
		return Result{}, false
	}
	return Parse(file.Text), true
}

// Clone returns an independent copy of the gate
func (g *RevealGate) Clone() RevealGate {
	if len(g.revealed) == 0 {
		return RevealGate{}
	}
	revealed := make(map[string]bool, len(g.revealed))
	for path := range g.revealed {
		revealed[path] = true
	}
	return RevealGate{revealed: revealed}
}
