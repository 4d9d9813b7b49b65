package generator

import (
	"strings"

	"github.com/BurntSushi/toml"
)

// InlineMetadata is the parsed content of a PEP 723 inline script metadata
// block: a "# /// script" ... "# ///" fenced comment containing TOML.
type InlineMetadata struct {
	RequiresPython string   `toml:"requires-python"`
	Dependencies   []string `toml:"dependencies"`
}

// ParseInlineMetadata extracts and parses the PEP 723 block from source, if
// present. A missing or malformed block yields a zero-value InlineMetadata
// rather than an error — skill validation treats an empty dependency list
// as valid (self-contained) rather than a hard failure.
func ParseInlineMetadata(source string) InlineMetadata {
	lines := strings.Split(source, "\n")
	start := -1
	end := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if start == -1 && trimmed == "# /// script" {
			start = i
			continue
		}
		if start != -1 && trimmed == "# ///" {
			end = i
			break
		}
	}
	if start == -1 || end == -1 {
		return InlineMetadata{}
	}

	var tomlLines []string
	for _, line := range lines[start+1 : end] {
		stripped := strings.TrimPrefix(line, "#")
		stripped = strings.TrimPrefix(stripped, " ")
		tomlLines = append(tomlLines, stripped)
	}

	var meta InlineMetadata
	_, _ = toml.Decode(strings.Join(tomlLines, "\n"), &meta)
	return meta
}
