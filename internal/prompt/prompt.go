// Package prompt builds the text sent to the model for one function.
package prompt

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Default is used when no prompt level is selected or the level is unknown.
const Default = `You are an experienced software engineer. Review the following code from a professional point of view and point out where it can be improved.
Keep the feedback concise and only suggest changes for problems that could cause serious errors in the program. Do not include example code.
Do not nitpick. If you have no worthwhile suggestion, the review may be empty.`

// LoadLevels reads a JSON object mapping level names to prompt prefixes.
func LoadLevels(path string) (map[string]string, error) {
	// Level names are flat and may contain dots.
	k := koanf.New("\x00")
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("load prompt levels %s: %w", path, err)
	}

	levels := make(map[string]string, len(k.Keys()))
	for key, v := range k.All() {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("prompt level %q in %s: want a string, got %T", key, path, v)
		}
		levels[key] = s
	}
	return levels, nil
}

// Builder assembles prompts from a selected level and optional rules.
type Builder struct {
	prefix string
}

// NewBuilder picks the prefix for level from levels, falling back to
// Default. rules, when not empty, is appended to the prefix.
func NewBuilder(levels map[string]string, level, rules string) *Builder {
	prefix := Default
	if p, ok := levels[level]; ok && level != "" {
		prefix = p
	}
	if strings.TrimSpace(rules) != "" {
		prefix += "\n\nFollow these project rules:\n" + strings.TrimRight(rules, "\n")
	}
	return &Builder{prefix: prefix}
}

// Build returns the prompt for one unit of code.
func (b *Builder) Build(code string) string {
	return b.prefix + "\n" + code
}
