package domain

// DiffFile is the diff of one path produced by a task
type DiffFile struct {
	Path      string `json:"path"`
	LineCount int    `json:"lineCount"`
	Text      string `json:"text"`
	TooLarge  bool   `json:"tooLarge"`
}

// TaskDiff is the diff response for a task. Available is false when the
// server could not compute it; Reason then says why.
type TaskDiff struct {
	Available bool       `json:"available"`
	BaseSHA   string     `json:"baseSha,omitempty"`
	Files     []DiffFile `json:"files,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// File returns the diff file for path, or nil
func (d *TaskDiff) File(path string) *DiffFile {
	if d == nil {
		return nil
	}
	for i := range d.Files {
		if d.Files[i].Path == path {
			return &d.Files[i]
		}
	}
	return nil
}
