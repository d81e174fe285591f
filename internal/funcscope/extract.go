package funcscope

import (
	"fmt"
	"unicode/utf8"

	"go.uber.org/multierr"

	"github.com/ysxu666/llm-mr-reviewer/internal/diff"
	"github.com/ysxu666/llm-mr-reviewer/internal/types"
)

// ExtractError is returned when a node's source span cannot be turned into
// text. The unit is reported as failed rather than reviewed with a partial
// body.
type ExtractError struct {
	Kind      string
	StartLine int
	EndLine   int
	StartByte int
	EndByte   int
	Reason    string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s at lines %d-%d (bytes %d-%d): %s",
		e.Kind, e.StartLine, e.EndLine, e.StartByte, e.EndByte, e.Reason)
}

// Extract returns the exact source text covered by n.
func Extract(n Node, source []byte) (string, error) {
	start, end := n.StartByte(), n.EndByte()
	fail := func(reason string) error {
		return &ExtractError{
			Kind:      n.Kind(),
			StartLine: n.StartLine(),
			EndLine:   n.EndLine(),
			StartByte: start,
			EndByte:   end,
			Reason:    reason,
		}
	}

	switch {
	case start < 0 || end < start:
		return "", fail("invalid byte span")
	case end > len(source):
		return "", fail(fmt.Sprintf("span exceeds source length %d", len(source)))
	}

	body := source[start:end]
	if !utf8.Valid(body) {
		return "", fail("source is not valid UTF-8")
	}
	return string(body), nil
}

// Units locates the unit nodes claiming changed lines and extracts their
// bodies. Units whose text cannot be extracted are left out of the result
// and their errors combined into the returned error; every other unit is
// still returned.
func Units(file string, root Node, changed diff.LineSet, unitKind string, source []byte) ([]types.ReviewUnit, error) {
	var (
		units []types.ReviewUnit
		errs  error
	)
	for _, m := range Locate(root, changed, unitKind) {
		body, err := Extract(m.Node, source)
		if err != nil {
			errs = multierr.Append(errs, &UnitError{File: file, Anchor: m.Anchor, Err: err})
			continue
		}
		units = append(units, types.ReviewUnit{
			File:      file,
			Anchor:    m.Anchor,
			StartLine: m.Node.StartLine(),
			EndLine:   m.Node.EndLine(),
			Kind:      m.Node.Kind(),
			Body:      body,
		})
	}
	return units, errs
}

// UnitError ties an extraction failure to the unit it belongs to.
type UnitError struct {
	File   string
	Anchor int
	Err    error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Anchor, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }
