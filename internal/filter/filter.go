// Package filter decides which changed files are worth reviewing.
package filter

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ysxu666/llm-mr-reviewer/internal/parser"
	"github.com/ysxu666/llm-mr-reviewer/internal/types"
)

// skipDirs are path segments of vendored or generated code.
var skipDirs = []string{"node_modules", "vendor", "dist", "third_party", ".git"}

// Eligible keeps files in a supported language outside vendored
// directories and fills in their Language. Files without a post-change
// path are dropped. limit caps the result; zero
// means no limit.
func Eligible(files []types.FileDiff, limit int, logger zerolog.Logger) []types.FileDiff {
	var result []types.FileDiff

	for _, d := range files {
		path := d.NewPath
		if reason := skipReason(path); reason != "" {
			logger.Debug().Str("file", path).Str("reason", reason).Msg("Skipping file")
			continue
		}

		lang, err := parser.Detect(path)
		if err != nil {
			if !errors.Is(err, parser.ErrUnsupportedLanguage) {
				logger.Warn().Err(err).Str("file", path).Msg("Language detection failed")
			}
			logger.Debug().Str("file", path).Str("reason", "unsupported language").Msg("Skipping file")
			continue
		}

		d.Language = lang.Name
		result = append(result, d)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

func skipReason(path string) string {
	if path == "" {
		return "no path"
	}
	for _, segment := range strings.Split(path, "/") {
		for _, dir := range skipDirs {
			if segment == dir {
				return "vendored path " + dir
			}
		}
	}
	return ""
}
