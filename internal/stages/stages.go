// Package stages implements the seven pipeline stages: scrape, visual
// analysis, clustering, comparative salience, insight extraction, theme
// enrichment and visualization. Each stage reads the previous stage's
// output directory within a workflow run and writes its own.
package stages

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// CanonSections are the analysis sections every visual analysis is rendered
// into. Downstream stages split on these headers.
var CanonSections = []string{
	"VISUAL CODES",
	"CULTURAL MEANING",
	"TABOO NAVIGATION",
	"PLATFORM CONVENTIONS",
	"CONSUMER PSYCHOLOGY",
}

// sectionHeaderRe matches numbered section headings like "1) VISUAL CODES: ...".
var sectionHeaderRe = regexp.MustCompile(`^\s*(\d+)\)\s*([A-Za-z\x{4e00}-\x{9fff}\s/]+?):\s*(.*)$`)

// NormalizeSectionName maps a matched heading onto its canonical section.
// Unknown headings are returned uppercased.
func NormalizeSectionName(name string) string {
	n := strings.ToUpper(strings.Join(strings.Fields(name), " "))
	for _, canon := range CanonSections {
		if strings.Contains(n, canon) {
			return canon
		}
	}
	return n
}

// SplitSections breaks a rendered analysis into its numbered sections.
func SplitSections(text string) map[string]string {
	parts := make(map[string][]string)
	current := ""

	for _, line := range strings.Split(text, "\n") {
		if m := sectionHeaderRe.FindStringSubmatch(line); m != nil {
			current = NormalizeSectionName(m[2])
			parts[current] = []string{strings.TrimSpace(m[3])}
			continue
		}
		if current != "" {
			parts[current] = append(parts[current], strings.TrimSpace(line))
		}
	}

	sections := make(map[string]string, len(parts))
	for name, lines := range parts {
		joined := strings.TrimSpace(strings.Join(lines, " "))
		if joined != "" {
			sections[name] = joined
		}
	}
	return sections
}

// AnalysisRecord is the per-image result written by the visual stage and
// consumed by every later stage.
type AnalysisRecord struct {
	Filename  string `json:"filename"`
	Analysis  string `json:"analysis,omitempty"`
	Error     string `json:"error,omitempty"`
	Warning   string `json:"warning,omitempty"`
	Timestamp string `json:"timestamp"`
	Model     string `json:"model"`
}

// AnalysisDoc is one loaded analysis plus its derived sections.
type AnalysisDoc struct {
	Path     string
	Filename string
	Analysis string
	Sections map[string]string
}

// LoadAnalysisCorpus reads analysis_*.json records from a directory,
// skipping combined all_analyses files, error records and empty analyses.
func LoadAnalysisCorpus(dir string) ([]AnalysisDoc, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(matches)

	var docs []AnalysisDoc
	for _, path := range matches {
		if strings.Contains(filepath.Base(path), "all_analyses") {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var record AnalysisRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		if record.Error != "" || strings.TrimSpace(record.Analysis) == "" {
			continue
		}

		filename := record.Filename
		if filename == "" {
			filename = filepath.Base(path)
		}

		docs = append(docs, AnalysisDoc{
			Path:     path,
			Filename: filename,
			Analysis: record.Analysis,
			Sections: SplitSections(record.Analysis),
		})
	}
	return docs, nil
}

// writeJSON writes a value as indented JSON.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// snippet truncates text to at most n runes, appending an ellipsis when cut.
func snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

// toStringSlice coerces a decoded JSON value into a string slice. Accepts
// arrays of strings and single strings.
func toStringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return []string{val}
	default:
		return nil
	}
}

// asString coerces a decoded JSON value into a string, joining arrays.
func asString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []interface{}:
		return strings.Join(toStringSlice(val), "; ")
	default:
		return ""
	}
}
