// Package llm wraps the language-model providers used by the analysis
// stages behind a single Provider interface. Four providers are supported:
// OpenAI and Gemini (vision-capable), DeepSeek and Kimi (text-only). A
// provider whose API key is missing still constructs, but reports itself
// unavailable and fails calls with a configuration error.
package llm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"xhsresearch/pkg/errors"
	"xhsresearch/pkg/logger"
	"xhsresearch/pkg/ratelimit"
)

// Options configures a single analysis call.
type Options struct {
	// Kind selects the prompt template (basic, semiotic, sentiment,
	// trends, marketing).
	Kind string
	// Prompt overrides the template prompt.
	Prompt string
	// CustomPrompt overrides everything. Used for aggregate analyses.
	CustomPrompt string
	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int
	// Temperature overrides the provider default when > 0.
	Temperature float64
}

// Provider is one language-model backend.
type Provider interface {
	// Name returns the provider's registry name.
	Name() string
	// Model returns the model identifier calls are made with.
	Model() string
	// AnalyzeText runs a text analysis. Transport failures return a Go
	// error; replies that fail to parse return a Result carrying the raw
	// text.
	AnalyzeText(ctx context.Context, text string, opts Options) (Result, error)
	// AnalyzeImage runs a vision analysis on a local image file, with
	// optional text context. Text-only providers analyze the text when
	// present and return an error result otherwise.
	AnalyzeImage(ctx context.Context, imagePath, text string, opts Options) (Result, error)
	// SupportsVision reports whether the provider accepts images.
	SupportsVision() bool
	// IsAvailable reports whether the provider has a credential.
	IsAvailable() bool
}

// chatProvider implements Provider over a langchaingo chat model.
type chatProvider struct {
	name        string
	modelID     string
	vision      bool
	jsonMode    bool
	system      string
	temperature float64
	maxTokens   int
	model       llms.Model
	prompts     *PromptLibrary
	limiter     ratelimit.Limiter
	logger      logger.Logger
}

func (p *chatProvider) Name() string         { return p.name }
func (p *chatProvider) Model() string        { return p.modelID }
func (p *chatProvider) SupportsVision() bool { return p.vision }
func (p *chatProvider) IsAvailable() bool    { return p.model != nil }

// AnalyzeText sends the text through the chat model and parses the reply.
func (p *chatProvider) AnalyzeText(ctx context.Context, text string, opts Options) (Result, error) {
	if p.model == nil {
		return Result{}, errors.Newf(errors.ErrorTypeConfiguration,
			"provider %s is not available (missing API key)", p.name)
	}

	prompt := p.prompts.ResolveText(opts)
	user := fmt.Sprintf("%s\n\nContent to analyze:\n%s", prompt, text)
	if !p.jsonMode {
		user += "\n\nReturn the analysis as a valid JSON object."
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, p.system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	reply, err := p.generate(ctx, messages, opts)
	if err != nil {
		return Result{}, err
	}
	return ExtractJSON(reply), nil
}

// AnalyzeImage sends an image (with optional text context) through the chat
// model. Providers without vision fall back to text analysis.
func (p *chatProvider) AnalyzeImage(ctx context.Context, imagePath, text string, opts Options) (Result, error) {
	if p.model == nil {
		return Result{}, errors.Newf(errors.ErrorTypeConfiguration,
			"provider %s is not available (missing API key)", p.name)
	}

	if !p.vision {
		if text != "" {
			return p.AnalyzeText(ctx, text, opts)
		}
		return ErrorResult(fmt.Sprintf(
			"%s doesn't support image analysis and no text was provided", p.name)), nil
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return Result{}, errors.Newf(errors.ErrorTypeConfiguration,
			"failed to read image %s: %v", imagePath, err)
	}

	prompt := p.prompts.ResolveImagePrompt(opts)
	if text != "" {
		prompt += fmt.Sprintf("\n\nAdditional context: %s", text)
	}
	if !p.jsonMode {
		prompt += "\n\nReturn the analysis as a valid JSON object."
	}

	// Image first, then the prompt text.
	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(guessMIME(imagePath), data),
				llms.TextPart(prompt),
			},
		},
	}

	reply, err := p.generate(ctx, messages, opts)
	if err != nil {
		return Result{}, err
	}
	return ExtractJSON(reply), nil
}

func (p *chatProvider) generate(ctx context.Context, messages []llms.MessageContent, opts Options) (string, error) {
	if p.limiter != nil {
		p.limiter.Wait()
	}

	maxTokens := p.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := p.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	callOpts := []llms.CallOption{
		llms.WithTemperature(temperature),
	}
	if maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}
	if p.jsonMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	p.logger.DebugWithFields("calling model", map[string]interface{}{
		"provider":   p.name,
		"model":      p.modelID,
		"max_tokens": maxTokens,
	})

	resp, err := p.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", classifyModelError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Newf(errors.ErrorTypeServerError,
			"%s returned no choices", p.name)
	}

	return resp.Choices[0].Content, nil
}

// classifyModelError maps transport failures onto the shared error types so
// the retry predicate can tell rate limits from bad credentials.
func classifyModelError(provider string, err error) error {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(msg, "429"):
		return errors.Newf(errors.ErrorTypeRateLimit, "%s: %v", provider, err)
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || strings.Contains(msg, "401"):
		return errors.Newf(errors.ErrorTypeAuth, "%s: %v", provider, err)
	default:
		return errors.Newf(errors.ErrorTypeNetwork, "%s: %v", provider, err)
	}
}

func guessMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
