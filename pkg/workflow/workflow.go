// Package workflow manages the per-run directory layout and its on-disk
// sidecar. Every pipeline run lives under base/YYYYMMDD/<clean_query>/ with
// one subdirectory per stage output, and a workflow_config.json sidecar that
// lets later invocations rediscover the run.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode"
)

// SidecarName is the filename of the run configuration saved in QueryDir.
const SidecarName = "workflow_config.json"

// DirKeys lists every stage output directory created for a run.
var DirKeys = []string{
	"step1_scraped",
	"step1_images",
	"step2_analyses",
	"step3_clusters",
	"step4_comparative",
	"step5_insights",
	"step6_themes",
	"step7_visualizations",
	"logs",
}

// Config describes a single run's directory layout.
type Config struct {
	Query       string            `json:"query"`
	CleanQuery  string            `json:"clean_query"`
	Date        string            `json:"date"`
	BaseDir     string            `json:"base_dir"`
	QueryDir    string            `json:"query_dir"`
	Directories map[string]string `json:"directories"`
	CreatedAt   time.Time         `json:"created_at"`
}

// CleanQuery sanitizes a raw query into a directory-safe slug. Letters,
// digits, spaces, hyphens and underscores survive; spaces become underscores;
// the result is capped at 50 runes.
func CleanQuery(query string) string {
	kept := make([]rune, 0, len(query))
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			kept = append(kept, r)
		}
	}

	// Trim surrounding whitespace before the space substitution so a query
	// like "  tea  " does not pick up leading underscores.
	start, end := 0, len(kept)
	for start < end && kept[start] == ' ' {
		start++
	}
	for end > start && kept[end-1] == ' ' {
		end--
	}
	kept = kept[start:end]

	for i, r := range kept {
		if r == ' ' {
			kept[i] = '_'
		}
	}

	if len(kept) > 50 {
		kept = kept[:50]
	}
	return string(kept)
}

// New builds the directory layout for a run and creates every stage
// directory. An empty date defaults to today (YYYYMMDD). Creation is
// idempotent, so re-running with the same query and date reuses the
// existing tree.
func New(baseDir, query, date string) (*Config, error) {
	if query == "" {
		return nil, fmt.Errorf("workflow: query must not be empty")
	}
	if baseDir == "" {
		baseDir = "data"
	}
	if date == "" {
		date = time.Now().Format("20060102")
	}

	clean := CleanQuery(query)
	if clean == "" {
		return nil, fmt.Errorf("workflow: query %q contains no usable characters", query)
	}

	cfg := &Config{
		Query:      query,
		CleanQuery: clean,
		Date:       date,
		BaseDir:    baseDir,
		QueryDir:   filepath.Join(baseDir, date, clean),
		CreatedAt:  time.Now(),
	}

	cfg.Directories = make(map[string]string, len(DirKeys))
	for _, key := range DirKeys {
		cfg.Directories[key] = filepath.Join(cfg.QueryDir, key)
	}

	for _, dir := range cfg.Directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("workflow: failed to create %s: %w", dir, err)
		}
	}

	return cfg, nil
}

// Dir returns the directory for a stage key. Unknown keys fall back to the
// run's QueryDir.
func (c *Config) Dir(key string) (string, error) {
	if c.QueryDir == "" {
		return "", fmt.Errorf("workflow: query not set")
	}
	if dir, ok := c.Directories[key]; ok {
		return dir, nil
	}
	return c.QueryDir, nil
}

// LatestFile returns the most recently modified file in a stage directory
// matching pattern (a filepath.Match glob). Empty string when nothing matches.
func (c *Config) LatestFile(key, pattern string) (string, error) {
	dir, err := c.Dir(key)
	if err != nil {
		return "", err
	}
	if pattern == "" {
		pattern = "*.json"
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("workflow: bad pattern %q: %w", pattern, err)
	}

	var latest string
	var latestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = m
			latestMod = info.ModTime()
		}
	}
	return latest, nil
}

// Save writes the sidecar into QueryDir. The write goes through a temp file
// and rename so a crash never leaves a torn sidecar behind.
func (c *Config) Save() error {
	if c.QueryDir == "" {
		return fmt.Errorf("workflow: query not set")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("workflow: failed to marshal config: %w", err)
	}

	path := filepath.Join(c.QueryDir, SidecarName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("workflow: failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("workflow: failed to finalize config: %w", err)
	}
	return nil
}

// Load reads a sidecar and rebuilds the run layout from its base dir, query
// and date. Directory paths are re-derived rather than trusted, so a data
// tree moved wholesale still loads as long as base_dir is updated or relative.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: failed to read config %s: %w", path, err)
	}

	var saved Config
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("workflow: malformed config %s: %w", path, err)
	}
	if saved.Query == "" || saved.Date == "" {
		return nil, fmt.Errorf("workflow: config %s missing query or date", path)
	}

	cfg, err := New(saved.BaseDir, saved.Query, saved.Date)
	if err != nil {
		return nil, err
	}
	cfg.CreatedAt = saved.CreatedAt
	return cfg, nil
}

// FindLatest scans base/*/*/workflow_config.json and loads the most recently
// modified one. Returns nil without error when no run exists yet.
func FindLatest(baseDir string) (*Config, error) {
	if baseDir == "" {
		baseDir = "data"
	}

	matches, err := filepath.Glob(filepath.Join(baseDir, "*", "*", SidecarName))
	if err != nil {
		return nil, fmt.Errorf("workflow: scan failed: %w", err)
	}

	var latest string
	var latestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = m
			latestMod = info.ModTime()
		}
	}

	if latest == "" {
		return nil, nil
	}
	return Load(latest)
}

func (c *Config) String() string {
	if c.Query != "" {
		return fmt.Sprintf("workflow(query=%q, date=%s, dir=%s)", c.Query, c.Date, c.QueryDir)
	}
	return fmt.Sprintf("workflow(date=%s, base=%s)", c.Date, c.BaseDir)
}
