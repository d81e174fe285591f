package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadRules reads a markdown rules file, or every .md file in a directory,
// and joins them under a heading derived from each file name.
func LoadRules(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		matches, err := filepath.Glob(filepath.Join(path, "*.md"))
		if err != nil {
			return "", fmt.Errorf("glob markdown: %w", err)
		}
		if len(matches) == 0 {
			return "", fmt.Errorf("no markdown files found in directory %s", path)
		}
		files = matches
	} else {
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return "", fmt.Errorf("rules file must be a .md file, got: %s", path)
		}
		files = []string{path}
	}
	sort.Strings(files)

	var b strings.Builder
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		if len(strings.TrimSpace(string(content))) == 0 {
			continue
		}

		base := filepath.Base(file)
		title := strings.TrimSpace(splitCamelCase(strings.TrimSuffix(base, filepath.Ext(base))))

		b.WriteString("\n# ")
		b.WriteString(title)
		b.WriteString("\n\n")
		b.Write(content)
		b.WriteString("\n")
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("no rules found in %s", path)
	}
	return b.String(), nil
}

// splitCamelCase turns "NamingRules" into "Naming Rules".
func splitCamelCase(input string) string {
	var out []rune
	for i, r := range input {
		if i > 0 && r >= 'A' && r <= 'Z' {
			out = append(out, ' ')
		}
		out = append(out, r)
	}
	return string(out)
}
