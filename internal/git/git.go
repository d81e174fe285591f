// Package git reads changes from a local repository.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ysxu666/llm-mr-reviewer/internal/types"
)

type LocalOptions struct {
	RepoPath string
	// TargetBranch is the branch the changes are compared with. Empty or
	// HEAD compares uncommitted changes with the last commit.
	TargetBranch string
	// Local compares the working tree directly with TargetBranch instead of
	// with its merge base.
	Local bool
	// IncludeUncommitted adds staged and unstaged changes on top of the
	// commits since the merge base.
	IncludeUncommitted bool
}

// LocalChanges returns one diff per added, copied, modified or renamed file.
// Deleted files are left out.
func LocalChanges(ctx context.Context, opts LocalOptions, logger zerolog.Logger) ([]types.FileDiff, error) {
	repo := filepath.Clean(opts.RepoPath)

	rangeArgs, err := compareRange(ctx, repo, opts)
	if err != nil {
		return nil, err
	}
	logger.Debug().Strs("range", rangeArgs).Str("repo", repo).Msg("Collecting local changes")

	names, err := git(ctx, repo, append([]string{"diff", "--name-only", "--diff-filter=ACMR"}, rangeArgs...)...)
	if err != nil {
		return nil, err
	}

	var diffs []types.FileDiff
	for _, file := range parseLines(names) {
		args := append([]string{"diff", "--no-color", "--no-ext-diff"}, rangeArgs...)
		args = append(args, "--", file)
		out, err := git(ctx, repo, args...)
		if err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("Skipping file without diff")
			continue
		}
		text := string(out)
		if strings.TrimSpace(text) == "" {
			continue
		}
		diffs = append(diffs, types.FileDiff{
			OldPath:   file,
			NewPath:   file,
			Diff:      text,
			Additions: countPrefix(text, '+'),
			Deletions: countPrefix(text, '-'),
		})
	}
	return diffs, nil
}

func compareRange(ctx context.Context, repo string, opts LocalOptions) ([]string, error) {
	target := opts.TargetBranch
	switch {
	case target == "" || target == "HEAD":
		return []string{"HEAD"}, nil
	case opts.Local:
		return []string{target}, nil
	}

	out, err := git(ctx, repo, "merge-base", target, "HEAD")
	if err != nil {
		return nil, err
	}
	base := strings.TrimSpace(string(out))
	if opts.IncludeUncommitted {
		return []string{base}, nil
	}
	return []string{base, "HEAD"}, nil
}

func git(ctx context.Context, repo string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", repo}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func parseLines(input []byte) []string {
	var result []string
	for _, line := range strings.Split(string(input), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			result = append(result, line)
		}
	}
	return result
}

// countPrefix counts diff lines starting with prefix, ignoring the
// ---/+++ file headers.
func countPrefix(diff string, prefix byte) int {
	count := 0
	header := string([]byte{prefix, prefix, prefix, ' '})
	for _, line := range strings.Split(diff, "\n") {
		if len(line) > 0 && line[0] == prefix && !strings.HasPrefix(line, header) {
			count++
		}
	}
	return count
}
