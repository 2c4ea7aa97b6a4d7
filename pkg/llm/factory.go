package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"xhsresearch/pkg/config"
	"xhsresearch/pkg/errors"
	"xhsresearch/pkg/logger"
	"xhsresearch/pkg/ratelimit"
)

// Provider registry names.
const (
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderDeepSeek = "deepseek"
	ProviderKimi     = "kimi"
)

// PreferenceOrder is the order auto-selection tries providers in.
var PreferenceOrder = []string{ProviderOpenAI, ProviderGemini, ProviderDeepSeek, ProviderKimi}

const (
	deepSeekBaseURL = "https://api.deepseek.com/v1"
	moonshotBaseURL = "https://api.moonshot.cn/v1"

	systemAnalyst = "You are an expert social media and marketing analyst. Always return valid JSON."
	systemKimi    = "你是一位专业的社交媒体和营销分析师。请用JSON格式返回分析结果。" +
		"You are an expert social media analyst. Return valid JSON."
)

type providerSpec struct {
	model       string
	baseURL     string
	system      string
	vision      bool
	jsonMode    bool
	temperature float64
}

var providerSpecs = map[string]providerSpec{
	ProviderOpenAI: {
		model:       "gpt-4o-mini",
		system:      systemAnalyst,
		vision:      true,
		jsonMode:    true,
		temperature: 0.7,
	},
	ProviderGemini: {
		model:       "gemini-2.0-flash-exp",
		system:      systemAnalyst,
		vision:      true,
		temperature: 0.7,
	},
	ProviderDeepSeek: {
		model:       "deepseek-chat",
		baseURL:     deepSeekBaseURL,
		system:      systemAnalyst,
		jsonMode:    true,
		temperature: 0.7,
	},
	ProviderKimi: {
		model:       "moonshot-v1-8k",
		baseURL:     moonshotBaseURL,
		system:      systemKimi,
		temperature: 0.6,
	},
}

// ProviderInfo describes a provider without constructing its client.
type ProviderInfo struct {
	Name      string
	Model     string
	Vision    bool
	Available bool
}

// Factory creates providers from configured API keys.
type Factory struct {
	keys      map[string]string
	prompts   *PromptLibrary
	maxTokens int
	limiter   ratelimit.Limiter
	logger    logger.Logger
}

// NewFactory builds a factory from the loaded configuration. A FixedDelay
// limiter spaces out consecutive model calls.
func NewFactory(cfg *config.Config, log logger.Logger) (*Factory, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	prompts := DefaultPromptLibrary()
	if cfg.LLM.PromptsFile != "" {
		loaded, err := LoadPromptLibrary(cfg.LLM.PromptsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
		prompts = loaded
	}

	return &Factory{
		keys: map[string]string{
			ProviderOpenAI:   cfg.LLM.OpenAIKey,
			ProviderGemini:   cfg.LLM.GeminiKey,
			ProviderDeepSeek: cfg.LLM.DeepSeekKey,
			ProviderKimi:     cfg.LLM.MoonshotKey,
		},
		prompts:   prompts,
		maxTokens: cfg.LLM.MaxTokens,
		limiter:   ratelimit.NewFixedDelay(cfg.RateLimit.LLMCallDelay),
		logger:    log,
	}, nil
}

// NewFactoryWithKeys builds a factory from an explicit key map. Used in
// tests and by the providers command.
func NewFactoryWithKeys(keys map[string]string, log logger.Logger) *Factory {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Factory{
		keys:    keys,
		prompts: DefaultPromptLibrary(),
		logger:  log,
	}
}

// Names lists the known provider names.
func (f *Factory) Names() []string {
	return append([]string(nil), PreferenceOrder...)
}

// Describe reports every provider with its availability.
func (f *Factory) Describe() []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(PreferenceOrder))
	for _, name := range PreferenceOrder {
		spec := providerSpecs[name]
		infos = append(infos, ProviderInfo{
			Name:      name,
			Model:     spec.model,
			Vision:    spec.vision,
			Available: f.keys[name] != "",
		})
	}
	return infos
}

// Create builds the named provider. Unknown names and providers without a
// key are errors.
func (f *Factory) Create(ctx context.Context, name string) (Provider, error) {
	name = strings.ToLower(name)
	spec, ok := providerSpecs[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"unknown provider: %s (available: %s)", name, strings.Join(f.Names(), ", "))
	}

	key := f.keys[name]
	if key == "" {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"provider %s is not available (missing API key)", name)
	}

	model, err := f.buildModel(ctx, name, spec, key)
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"failed to initialize %s: %v", name, err)
	}

	return &chatProvider{
		name:        name,
		modelID:     spec.model,
		vision:      spec.vision,
		jsonMode:    spec.jsonMode,
		system:      spec.system,
		temperature: spec.temperature,
		maxTokens:   f.maxTokens,
		model:       model,
		prompts:     f.prompts,
		limiter:     f.limiter,
		logger:      f.logger,
	}, nil
}

// CreateAny returns the first available provider in preference order.
func (f *Factory) CreateAny(ctx context.Context) (Provider, error) {
	var tried []string
	for _, name := range PreferenceOrder {
		if f.keys[name] == "" {
			tried = append(tried, name+" (no key)")
			continue
		}
		provider, err := f.Create(ctx, name)
		if err != nil {
			tried = append(tried, fmt.Sprintf("%s (%v)", name, err))
			continue
		}

		f.logger.InfoWithFields("selected provider", map[string]interface{}{
			"provider": provider.Name(),
			"model":    provider.Model(),
		})
		return provider, nil
	}

	return nil, errors.Newf(errors.ErrorTypeConfiguration,
		"no LLM provider is available, tried: %s", strings.Join(tried, ", "))
}

func (f *Factory) buildModel(ctx context.Context, name string, spec providerSpec, key string) (llms.Model, error) {
	if name == ProviderGemini {
		return googleai.New(ctx,
			googleai.WithAPIKey(key),
			googleai.WithDefaultModel(spec.model),
		)
	}

	opts := []openai.Option{
		openai.WithToken(key),
		openai.WithModel(spec.model),
	}
	if spec.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(spec.baseURL))
	}
	return openai.New(opts...)
}
