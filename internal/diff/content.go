package diff

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
)

// Source selects where post-change content is read from first. The other
// location is the fallback.
type Source int

const (
	// WorkingTree reads the checkout under the repository path first.
	WorkingTree Source = iota
	// Commit reads the blob at the given ref first.
	Commit
)

// GetFileContent returns the post-change content of filePath, trying the
// location selected by from and then the other one. An empty ref means HEAD.
func GetFileContent(ctx context.Context, repoPath, filePath, ref string, from Source) ([]byte, error) {
	clean := filepath.Clean(filepath.FromSlash(filePath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("file path %q escapes repository", filePath)
	}
	if ref == "" {
		ref = "HEAD"
	}

	readTree := func() ([]byte, error) {
		return os.ReadFile(filepath.Join(repoPath, clean))
	}
	readRef := func() ([]byte, error) {
		cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "show", fmt.Sprintf("%s:%s", ref, filepath.ToSlash(clean)))
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		out, err := cmd.Output()
		if err != nil {
			return nil, fmt.Errorf("git show %s: %w: %s", ref, err, strings.TrimSpace(stderr.String()))
		}
		return out, nil
	}

	first, second := readTree, readRef
	if from == Commit {
		first, second = readRef, readTree
	}

	content, firstErr := first()
	if firstErr == nil {
		return content, nil
	}
	content, secondErr := second()
	if secondErr == nil {
		return content, nil
	}
	return nil, fmt.Errorf("read %s: %w", filePath, multierr.Combine(firstErr, secondErr))
}
