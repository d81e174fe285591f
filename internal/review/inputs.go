package review

import (
	"context"

	"github.com/ysxu666/llm-mr-reviewer/internal/diff"
	"github.com/ysxu666/llm-mr-reviewer/internal/types"
)

// LoadInputs reads the post-change content of every diff from repoPath or
// ref, trying from first. A file that cannot be read keeps its error in
// LoadErr so it is reported with the rest of the run.
func LoadInputs(ctx context.Context, repoPath, ref string, from diff.Source, diffs []types.FileDiff) []types.FileInput {
	inputs := make([]types.FileInput, 0, len(diffs))
	for _, d := range diffs {
		in := types.FileInput{
			Name:     d.NewPath,
			Patch:    d.Diff,
			Language: d.Language,
		}
		in.Content, in.LoadErr = diff.GetFileContent(ctx, repoPath, d.NewPath, ref, from)
		inputs = append(inputs, in)
	}
	return inputs
}
