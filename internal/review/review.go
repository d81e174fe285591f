// Package review runs the per-file pipeline: changed lines, enclosing
// functions, model review and comment posting.
package review

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ysxu666/llm-mr-reviewer/internal/diff"
	"github.com/ysxu666/llm-mr-reviewer/internal/funcscope"
	"github.com/ysxu666/llm-mr-reviewer/internal/parser"
	"github.com/ysxu666/llm-mr-reviewer/internal/types"
)

// Stages a unit can fail in.
const (
	StageExtract = "extract"
	StageReview  = "review"
	StagePost    = "post"
)

// UnitError attributes a failure to one function of one file.
type UnitError struct {
	File   string
	Anchor int
	Stage  string
	Err    error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %v", e.File, e.Anchor, e.Stage, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// Parser builds syntax trees. *parser.Parser implements it.
type Parser interface {
	Parse(ctx context.Context, file string, lang parser.Language, content []byte) (*parser.Tree, error)
}

// Reviewer turns a prompt into review text.
type Reviewer interface {
	Review(ctx context.Context, prompt string) (string, error)
}

// Poster publishes a review at a line of the post-change file.
type Poster interface {
	Post(ctx context.Context, file string, line int, body string) error
}

// Options configures a Coordinator.
type Options struct {
	Parser   Parser
	Reviewer Reviewer
	Poster   Poster
	// Prompt wraps a function body into the text sent to the reviewer.
	// Nil sends the body unchanged.
	Prompt func(code string) string
	// Concurrency bounds the files analyzed at once. Defaults to the number
	// of CPUs.
	Concurrency int
	Logger      zerolog.Logger
}

// Coordinator reviews files one function at a time.
type Coordinator struct {
	parser      Parser
	reviewer    Reviewer
	poster      Poster
	prompt      func(string) string
	concurrency int
	logger      zerolog.Logger
}

func New(opts Options) *Coordinator {
	prompt := opts.Prompt
	if prompt == nil {
		prompt = func(code string) string { return code }
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = runtime.NumCPU()
	}
	return &Coordinator{
		parser:      opts.Parser,
		reviewer:    opts.Reviewer,
		poster:      opts.Poster,
		prompt:      prompt,
		concurrency: concurrency,
		logger:      opts.Logger,
	}
}

// Run reviews every file with at most Concurrency files in flight and
// returns one report per input, in input order. A failing file never stops
// the others. Files not started when ctx is done report ctx's error.
func (c *Coordinator) Run(ctx context.Context, inputs []types.FileInput) []types.FileReport {
	reports := make([]types.FileReport, len(inputs))
	sem := semaphore.NewWeighted(int64(c.concurrency))
	var g errgroup.Group

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				reports[i] = types.FileReport{File: in.Name, Language: in.Language, Err: err}
				return nil
			}
			defer sem.Release(1)
			reports[i] = c.ReviewFile(ctx, in)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// ReviewFile reviews the functions of one file that contain changed lines.
// Unsupported languages produce an empty, skipped report without an error.
func (c *Coordinator) ReviewFile(ctx context.Context, in types.FileInput) types.FileReport {
	report := types.FileReport{File: in.Name, Language: in.Language}
	logger := c.logger.With().Str("file", in.Name).Logger()

	lang, err := resolveLanguage(in)
	if err != nil {
		logger.Debug().Err(err).Msg("Skipping file")
		report.Skipped = true
		return report
	}
	report.Language = lang.Name

	if in.LoadErr != nil {
		report.Err = fmt.Errorf("load %s: %w", in.Name, in.LoadErr)
		return report
	}

	changed := diff.ChangedLines(in.Patch, logger)
	if changed.Empty() {
		logger.Debug().Msg("No added lines")
		return report
	}

	units, failed, err := c.extract(ctx, in, lang, changed, logger)
	if err != nil {
		report.Err = err
		return report
	}
	logger.Info().
		Str("language", lang.Name).
		Int("changed_lines", changed.Len()).
		Int("units", len(units)).
		Msg("Reviewing file")

	report.Results = append(report.Results, failed...)
	for _, u := range units {
		report.Results = append(report.Results, c.reviewUnit(ctx, u, logger))
	}
	slices.SortStableFunc(report.Results, func(a, b types.UnitResult) int {
		return a.Unit.Anchor - b.Unit.Anchor
	})
	return report
}

func resolveLanguage(in types.FileInput) (parser.Language, error) {
	if in.Language != "" {
		return parser.ByName(in.Language)
	}
	return parser.Detect(in.Name)
}

// extract parses the file and pulls out its changed units. The tree is
// released before returning so no parser state outlives the analysis.
func (c *Coordinator) extract(ctx context.Context, in types.FileInput, lang parser.Language, changed diff.LineSet, logger zerolog.Logger) ([]types.ReviewUnit, []types.UnitResult, error) {
	tree, err := c.parser.Parse(ctx, in.Name, lang, in.Content)
	if err != nil {
		return nil, nil, err
	}
	defer tree.Close()

	if tree.HasError() {
		logger.Warn().Msg("Source has syntax errors, units may be incomplete")
	}

	units, err := funcscope.Units(in.Name, tree.Root(), changed, lang.UnitKind, tree.Source())
	var failed []types.UnitResult
	for _, e := range multierr.Errors(err) {
		anchor := 0
		var unitErr *funcscope.UnitError
		if errors.As(e, &unitErr) {
			anchor = unitErr.Anchor
			e = unitErr.Err
		}
		logger.Error().Err(e).Int("line", anchor).Msg("Failed to extract function")
		failed = append(failed, types.UnitResult{
			Unit: types.ReviewUnit{File: in.Name, Anchor: anchor},
			Err:  &UnitError{File: in.Name, Anchor: anchor, Stage: StageExtract, Err: e},
		})
	}
	return units, failed, nil
}

func (c *Coordinator) reviewUnit(ctx context.Context, u types.ReviewUnit, logger zerolog.Logger) types.UnitResult {
	res := types.UnitResult{Unit: u}
	logger = logger.With().Int("line", u.Anchor).Str("kind", u.Kind).Logger()

	if err := ctx.Err(); err != nil {
		res.Err = &UnitError{File: u.File, Anchor: u.Anchor, Stage: StageReview, Err: err}
		return res
	}

	text, err := c.reviewer.Review(ctx, c.prompt(u.Body))
	if err != nil {
		logger.Error().Err(err).Msg("Review failed")
		res.Err = &UnitError{File: u.File, Anchor: u.Anchor, Stage: StageReview, Err: err}
		return res
	}
	res.Review = text

	if strings.TrimSpace(text) == "" {
		logger.Debug().Msg("Empty review, nothing to post")
		return res
	}

	if err := c.poster.Post(ctx, u.File, u.Anchor, text); err != nil {
		logger.Error().Err(err).Msg("Posting review failed")
		res.Err = &UnitError{File: u.File, Anchor: u.Anchor, Stage: StagePost, Err: err}
		return res
	}
	res.Posted = true
	logger.Debug().Msg("Review posted")
	return res
}
