package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Analysis kinds understood by every provider.
const (
	KindBasic     = "basic"
	KindSemiotic  = "semiotic"
	KindSentiment = "sentiment"
	KindTrends    = "trends"
	KindMarketing = "marketing"
)

// PromptTemplate holds the prompts for one analysis kind.
type PromptTemplate struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	TextPrompt  string `yaml:"text_prompt"`
	ImagePrompt string `yaml:"image_prompt"`
}

// PromptLibrary resolves analysis kinds to their prompts. Templates can be
// overridden from a YAML file; anything not overridden keeps its embedded
// default.
type PromptLibrary struct {
	templates map[string]PromptTemplate
}

// DefaultPromptLibrary returns a library with the embedded templates.
func DefaultPromptLibrary() *PromptLibrary {
	templates := make(map[string]PromptTemplate, len(defaultTemplates))
	for kind, tpl := range defaultTemplates {
		templates[kind] = tpl
	}
	return &PromptLibrary{templates: templates}
}

// LoadPromptLibrary merges template overrides from a YAML file over the
// embedded defaults. The file holds a top-level analysis_types map keyed by
// kind.
func LoadPromptLibrary(path string) (*PromptLibrary, error) {
	lib := DefaultPromptLibrary()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var file struct {
		AnalysisTypes map[string]PromptTemplate `yaml:"analysis_types"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}

	for kind, tpl := range file.AnalysisTypes {
		merged := lib.templates[kind]
		if tpl.Name != "" {
			merged.Name = tpl.Name
		}
		if tpl.Description != "" {
			merged.Description = tpl.Description
		}
		if tpl.TextPrompt != "" {
			merged.TextPrompt = tpl.TextPrompt
		}
		if tpl.ImagePrompt != "" {
			merged.ImagePrompt = tpl.ImagePrompt
		}
		lib.templates[kind] = merged
	}

	return lib, nil
}

// Template returns the template for a kind, falling back to basic for
// unknown kinds.
func (l *PromptLibrary) Template(kind string) PromptTemplate {
	if tpl, ok := l.templates[kind]; ok {
		return tpl
	}
	return l.templates[KindBasic]
}

// Kinds lists the known analysis kinds.
func (l *PromptLibrary) Kinds() []string {
	return []string{KindBasic, KindSemiotic, KindSentiment, KindTrends, KindMarketing}
}

// ResolveText picks the text prompt for a call: an explicit custom prompt
// wins, then an explicit prompt, then the kind's template.
func (l *PromptLibrary) ResolveText(opts Options) string {
	if opts.CustomPrompt != "" {
		return opts.CustomPrompt
	}
	if opts.Prompt != "" {
		return opts.Prompt
	}
	return l.Template(opts.Kind).TextPrompt
}

// ResolveImage picks the image prompt for a kind.
func (l *PromptLibrary) ResolveImage(kind string) string {
	return l.Template(kind).ImagePrompt
}

// ResolveImagePrompt picks the image prompt for a call, with the same
// override precedence as ResolveText.
func (l *PromptLibrary) ResolveImagePrompt(opts Options) string {
	if opts.CustomPrompt != "" {
		return opts.CustomPrompt
	}
	if opts.Prompt != "" {
		return opts.Prompt
	}
	return l.Template(opts.Kind).ImagePrompt
}

var defaultTemplates = map[string]PromptTemplate{
	KindBasic: {
		Name:        "Basic Analysis",
		Description: "General content summary with key points and audience",
		TextPrompt: `Analyze this social media post. Return a JSON object with keys:
"summary" (one-sentence summary), "key_points" (array of strings),
"target_audience" (string), "content_type" (string).`,
		ImagePrompt: `Analyze this social media image. Return a JSON object with keys:
"description" (what the image shows), "style" (visual style), "subjects"
(array of main subjects), "setting" (string).`,
	},
	KindSemiotic: {
		Name:        "Semiotic Analysis",
		Description: "Visual codes, symbols and cultural signifiers",
		TextPrompt: `Perform a semiotic analysis of this post. Return a JSON object with keys:
"visual_codes" (array of strings), "symbols" (array of strings),
"cultural_signifiers" (array of strings), "connotations" (string),
"ideological_reading" (string).`,
		ImagePrompt: `Perform a semiotic analysis of this social media image for market
research. Return a JSON object with exactly these keys, each a detailed
paragraph: "visual_codes" (colors, composition, styling choices and what
they signal), "cultural_meaning" (cultural context and references the
image draws on), "taboo_navigation" (how sensitive topics are softened,
euphemized or aestheticized, or "none" if not applicable),
"platform_conventions" (genre conventions of the platform the image
follows), "consumer_psychology" (desires, anxieties and aspirations the
image speaks to).`,
	},
	KindSentiment: {
		Name:        "Sentiment Analysis",
		Description: "Emotional tone and consumer attitude",
		TextPrompt: `Analyze the sentiment of this post. Return a JSON object with keys:
"sentiment" (positive/negative/neutral/mixed), "confidence" (0-1),
"emotions" (array of strings), "attitude_toward_product" (string).`,
		ImagePrompt: `Analyze the emotional tone this image projects. Return a JSON object
with keys: "mood" (string), "emotional_appeal" (string), "sentiment"
(positive/negative/neutral), "viewer_response" (string).`,
	},
	KindTrends: {
		Name:        "Trend Analysis",
		Description: "Emerging patterns and trend signals",
		TextPrompt: `Identify trend signals in this post. Return a JSON object with keys:
"trends" (array of strings), "novelty" (string), "adoption_stage"
(emerging/growing/mainstream/declining), "related_categories" (array).`,
		ImagePrompt: `Identify trend signals visible in this image. Return a JSON object with
keys: "visual_trends" (array), "aesthetic" (string), "adoption_stage"
(emerging/growing/mainstream/declining), "related_categories" (array).`,
	},
	KindMarketing: {
		Name:        "Marketing Analysis",
		Description: "Positioning, claims and competitive angle",
		TextPrompt: `Analyze this post from a marketing perspective. Return a JSON object with
keys: "positioning" (string), "claims" (array of strings), "hooks" (array
of strings), "call_to_action" (string), "competitive_angle" (string).`,
		ImagePrompt: `Analyze this image from a marketing perspective. Return a JSON object
with keys: "positioning" (string), "product_presentation" (string),
"brand_cues" (array), "persuasion_techniques" (array),
"target_consumer" (string).`,
	},
}
