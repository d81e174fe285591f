package types

import (
	"go.uber.org/multierr"
)

type FileDiff struct {
	OldPath   string
	NewPath   string
	Diff      string
	Additions int
	Deletions int
	Language  string
}

// FileInput is everything the coordinator needs to review one file.
type FileInput struct {
	Name     string
	Content  []byte
	Patch    string
	Language string
	// LoadErr is set when the post-change content could not be obtained.
	LoadErr error
}

// ReviewUnit is one function or method that contains changed lines.
type ReviewUnit struct {
	File      string
	Anchor    int
	StartLine int
	EndLine   int
	Kind      string
	Body      string
}

type UnitResult struct {
	Unit   ReviewUnit
	Review string
	Posted bool
	Err    error
}

// FileReport carries the outcome of reviewing a single file.
type FileReport struct {
	File     string
	Language string
	Skipped  bool
	Results  []UnitResult
	Err      error
}

// Failures returns the file-level error combined with every unit error.
func (r FileReport) Failures() error {
	err := r.Err
	for _, res := range r.Results {
		err = multierr.Append(err, res.Err)
	}
	return err
}

type ReviewComment struct {
	FilePath string `json:"filePath"`
	Line     int    `json:"line"`
	Comment  string `json:"comment"`
}
