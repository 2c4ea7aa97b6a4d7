package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"xhsresearch/pkg/errors"
	"xhsresearch/pkg/llm"
	"xhsresearch/pkg/pipeline"
	"xhsresearch/pkg/workflow"
)

// sectionKeys maps the JSON keys the semiotic image prompt asks for onto
// the canonical section names.
var sectionKeys = []struct {
	key     string
	section string
}{
	{"visual_codes", "VISUAL CODES"},
	{"cultural_meaning", "CULTURAL MEANING"},
	{"taboo_navigation", "TABOO NAVIGATION"},
	{"platform_conventions", "PLATFORM CONVENTIONS"},
	{"consumer_psychology", "CONSUMER PSYCHOLOGY"},
}

// Visual is stage 2: run the vision model over every downloaded image and
// persist one analysis record per image.
type Visual struct {
	// Provider overrides the factory-built provider. Set in tests.
	Provider llm.Provider
}

func (v *Visual) Name() string   { return "visual" }
func (v *Visual) Key() string    { return "step2_analyses" }
func (v *Visual) Required() bool { return true }
func (v *Visual) Heavy() bool    { return true }

func (v *Visual) Run(ctx context.Context, wf *workflow.Config, params pipeline.Params) error {
	cfg := params.Config
	log := params.Logger

	provider := v.Provider
	if provider == nil {
		created, err := params.CreateProvider(ctx)
		if err != nil {
			return err
		}
		provider = created
	}
	if !provider.SupportsVision() {
		log.WarnWithFields("provider has no vision support, image analyses will fail without text context", map[string]interface{}{
			"provider": provider.Name(),
		})
	}

	imagesDir, err := wf.Dir("step1_images")
	if err != nil {
		return err
	}
	images, err := listImages(imagesDir)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found in %s, run the scrape stage first", imagesDir)
	}
	if cfg.Pipeline.MaxItems > 0 && len(images) > cfg.Pipeline.MaxItems {
		images = images[:cfg.Pipeline.MaxItems]
	}

	outDir, err := wf.Dir("step2_analyses")
	if err != nil {
		return err
	}

	log.InfoWithFields("analyzing images", map[string]interface{}{
		"count":    len(images),
		"provider": provider.Name(),
		"model":    provider.Model(),
	})

	records := make([]AnalysisRecord, 0, len(images))
	var failed int

	for idx, imagePath := range images {
		record := v.analyzeOne(ctx, provider, imagePath, cfg.LLM.RetryMaxTokens)
		records = append(records, record)

		if record.Error != "" {
			failed++
			log.ErrorWithFields("image analysis failed", map[string]interface{}{
				"image": record.Filename,
				"error": record.Error,
			})
		} else {
			log.DebugWithFields("image analyzed", map[string]interface{}{
				"image": record.Filename,
			})
		}

		stem := strings.TrimSuffix(record.Filename, filepath.Ext(record.Filename))
		perPath := filepath.Join(outDir,
			fmt.Sprintf("analysis_%03d_%s.json", idx+1, snippetPlain(stem, 30)))
		if err := writeJSON(perPath, record); err != nil {
			return err
		}
	}

	allPath := filepath.Join(outDir,
		fmt.Sprintf("all_analyses_%s.json", time.Now().Format("20060102_150405")))
	if err := writeJSON(allPath, records); err != nil {
		return err
	}

	log.InfoWithFields("visual analysis complete", map[string]interface{}{
		"analyzed": len(records) - failed,
		"failed":   failed,
	})

	if failed == len(records) {
		return fmt.Errorf("all %d image analyses failed", len(records))
	}

	if params.Synthesize {
		if err := v.synthesize(ctx, provider, records, outDir, cfg.LLM.RetryMaxTokens, params); err != nil {
			log.WithError(err).Warn("corpus synthesis failed")
		}
	}
	return nil
}

// analyzeOne runs one image through the provider, retrying once with a
// larger token budget when the reply came back empty or unparseable.
func (v *Visual) analyzeOne(ctx context.Context, provider llm.Provider, imagePath string, retryMaxTokens int) AnalysisRecord {
	record := AnalysisRecord{
		Filename:  filepath.Base(imagePath),
		Timestamp: time.Now().Format(time.RFC3339),
		Model:     provider.Model(),
	}

	opts := llm.Options{Kind: llm.KindSemiotic}
	result, err := provider.AnalyzeImage(ctx, imagePath, "", opts)
	if err == nil && !result.OK() && retryMaxTokens > 0 {
		opts.MaxTokens = retryMaxTokens
		if retried, retryErr := provider.AnalyzeImage(ctx, imagePath, "", opts); retryErr == nil && retried.OK() {
			result = retried
		}
	}

	if err != nil {
		record.Error = err.Error()
		return record
	}

	switch {
	case result.OK():
		record.Analysis = renderSections(result.Data)
	case result.Raw != "":
		record.Analysis = result.Raw
		record.Warning = "reply did not parse as JSON, stored raw text"
	default:
		record.Error = result.Err
		if record.Error == "" {
			record.Error = "empty reply after retry"
		}
	}
	return record
}

// renderSections turns a parsed semiotic result into the numbered section
// text the later stages split on. Keys the model omitted are dropped; a
// reply with none of the expected keys falls back to indented JSON.
func renderSections(data map[string]interface{}) string {
	var b strings.Builder
	num := 0
	for _, sk := range sectionKeys {
		text := asString(data[sk.key])
		if strings.TrimSpace(text) == "" {
			continue
		}
		num++
		fmt.Fprintf(&b, "%d) %s: %s\n", num, sk.section, strings.TrimSpace(text))
	}

	if num == 0 {
		raw, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return ""
		}
		return string(raw)
	}
	return strings.TrimRight(b.String(), "\n")
}

// synthesize runs one aggregate pass over the successful analyses.
func (v *Visual) synthesize(ctx context.Context, provider llm.Provider, records []AnalysisRecord,
	outDir string, retryMaxTokens int, params pipeline.Params) error {
	var snips []string
	for _, r := range records {
		if r.Error != "" || strings.TrimSpace(r.Analysis) == "" {
			continue
		}
		snips = append(snips, snippetPlain(r.Analysis, 240))
		if len(snips) >= 40 {
			break
		}
	}
	if len(snips) == 0 {
		return fmt.Errorf("no successful analyses to synthesize")
	}

	prompt := fmt.Sprintf(`Below are %d condensed image analyses from one social media search.
Synthesize them into a market research summary. Return a JSON object with
keys: "dominant_codes" (array of recurring visual and cultural codes),
"emerging_signals" (array), "consumer_drivers" (array of psychological
drivers), "summary" (a paragraph).`, len(snips))
	corpus := "- " + strings.Join(snips, "\n- ")

	result, err := provider.AnalyzeText(ctx, corpus, llm.Options{CustomPrompt: prompt})
	if err == nil && !result.OK() && retryMaxTokens > 0 {
		result, err = provider.AnalyzeText(ctx, corpus, llm.Options{
			CustomPrompt: prompt,
			MaxTokens:    retryMaxTokens,
		})
	}
	if err != nil {
		return err
	}

	path := filepath.Join(outDir,
		fmt.Sprintf("synthesis_%s.json", time.Now().Format("20060102_150405")))
	if result.OK() {
		if err := writeJSON(path, result.Data); err != nil {
			return err
		}
	} else {
		if err := writeJSON(path, result); err != nil {
			return err
		}
	}

	params.Logger.InfoWithFields("corpus synthesis saved", map[string]interface{}{
		"path":     path,
		"snippets": len(snips),
	})
	return nil
}

// listImages returns the image files in a directory, sorted by name.
func listImages(dir string) ([]string, error) {
	var images []string
	for _, pattern := range []string{"*.jpg", "*.jpeg", "*.png", "*.webp"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeConfiguration, "bad image pattern: %v", err)
		}
		images = append(images, matches...)
	}
	sort.Strings(images)
	return images, nil
}

// snippetPlain truncates to n runes without an ellipsis marker.
func snippetPlain(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
