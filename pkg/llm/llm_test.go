package llm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"xhsresearch/pkg/logger"
)

func TestExtractJSONFenceEquivalence(t *testing.T) {
	payload := `{"summary": "matcha is trending", "key_points": ["ritual", "health"]}`
	variants := []string{
		payload,
		"```json\n" + payload + "\n```",
		"```\n" + payload + "\n```",
		"Here is the analysis:\n```json\n" + payload + "\n```\nHope that helps!",
	}

	want := ExtractJSON(payload)
	require.True(t, want.OK())

	for i, v := range variants {
		got := ExtractJSON(v)
		assert.True(t, got.OK(), "variant %d did not parse", i)
		assert.Equal(t, want.Data, got.Data, "variant %d decoded differently", i)
	}
}

func TestExtractJSONParseFailure(t *testing.T) {
	raw := "I could not produce JSON, sorry."
	result := ExtractJSON(raw)

	assert.False(t, result.OK())
	assert.Equal(t, "Failed to parse JSON", result.Err)
	assert.Equal(t, raw, result.Raw)
	assert.Nil(t, result.Data)
}

func TestResultOK(t *testing.T) {
	assert.True(t, Result{Data: map[string]any{"a": 1}}.OK())
	assert.False(t, Result{}.OK())
	assert.False(t, ErrorResult("boom").OK())
}

func TestPromptLibraryResolution(t *testing.T) {
	lib := DefaultPromptLibrary()

	t.Run("custom prompt wins", func(t *testing.T) {
		got := lib.ResolveText(Options{Kind: KindSemiotic, Prompt: "explicit", CustomPrompt: "custom"})
		assert.Equal(t, "custom", got)
	})

	t.Run("explicit prompt beats template", func(t *testing.T) {
		got := lib.ResolveText(Options{Kind: KindSemiotic, Prompt: "explicit"})
		assert.Equal(t, "explicit", got)
	})

	t.Run("template by kind", func(t *testing.T) {
		got := lib.ResolveText(Options{Kind: KindSentiment})
		assert.Equal(t, lib.Template(KindSentiment).TextPrompt, got)
		assert.NotEmpty(t, got)
	})

	t.Run("unknown kind falls back to basic", func(t *testing.T) {
		got := lib.Template("astrology")
		assert.Equal(t, lib.Template(KindBasic), got)
	})
}

func TestLoadPromptLibraryMergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := `analysis_types:
  semiotic:
    text_prompt: "Overridden semiotic text prompt."
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	lib, err := LoadPromptLibrary(path)
	require.NoError(t, err)

	tpl := lib.Template(KindSemiotic)
	assert.Equal(t, "Overridden semiotic text prompt.", tpl.TextPrompt)
	// Fields not overridden keep their defaults.
	assert.NotEmpty(t, tpl.ImagePrompt)
	assert.NotEmpty(t, lib.Template(KindBasic).TextPrompt)
}

func TestLoadPromptLibraryMissingFile(t *testing.T) {
	_, err := LoadPromptLibrary(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// fakeModel returns a canned reply.
type fakeModel struct {
	reply string
	err   error
	calls int
	last  []llms.MessageContent
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.last = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.reply}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return f.reply, f.err
}

func newTestProvider(model llms.Model, vision bool) *chatProvider {
	return &chatProvider{
		name:        "test",
		modelID:     "test-model",
		vision:      vision,
		system:      systemAnalyst,
		temperature: 0.7,
		model:       model,
		prompts:     DefaultPromptLibrary(),
		logger:      logger.NewNopLogger(),
	}
}

func TestAnalyzeTextParsesReply(t *testing.T) {
	fake := &fakeModel{reply: "```json\n{\"sentiment\": \"positive\"}\n```"}
	p := newTestProvider(fake, false)

	result, err := p.AnalyzeText(context.Background(), "love this serum", Options{Kind: KindSentiment})
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.Equal(t, "positive", result.Data["sentiment"])
	assert.Equal(t, 1, fake.calls)
}

func TestAnalyzeTextParseFailureIsNotAnError(t *testing.T) {
	fake := &fakeModel{reply: "plain prose, no JSON"}
	p := newTestProvider(fake, false)

	result, err := p.AnalyzeText(context.Background(), "text", Options{})
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.Equal(t, "plain prose, no JSON", result.Raw)
}

func TestAnalyzeImageTextOnlyFallback(t *testing.T) {
	fake := &fakeModel{reply: `{"summary": "from text"}`}
	p := newTestProvider(fake, false)

	t.Run("falls back to text analysis", func(t *testing.T) {
		result, err := p.AnalyzeImage(context.Background(), "/nonexistent.jpg", "caption text", Options{Kind: KindBasic})
		require.NoError(t, err)
		assert.True(t, result.OK())
		assert.Equal(t, "from text", result.Data["summary"])
	})

	t.Run("error result without text", func(t *testing.T) {
		result, err := p.AnalyzeImage(context.Background(), "/nonexistent.jpg", "", Options{Kind: KindBasic})
		require.NoError(t, err)
		assert.False(t, result.OK())
		assert.Contains(t, result.Err, "doesn't support image analysis")
	})
}

func TestAnalyzeImageVision(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "post.jpg")
	require.NoError(t, os.WriteFile(imgPath, []byte("fake image bytes"), 0644))

	fake := &fakeModel{reply: `{"visual_codes": ["pastel"]}`}
	p := newTestProvider(fake, true)

	result, err := p.AnalyzeImage(context.Background(), imgPath, "", Options{Kind: KindSemiotic})
	require.NoError(t, err)
	require.True(t, result.OK())

	// The request carries the image bytes followed by the prompt.
	require.Len(t, fake.last, 1)
	require.Len(t, fake.last[0].Parts, 2)
	_, isBinary := fake.last[0].Parts[0].(llms.BinaryContent)
	assert.True(t, isBinary, "first part should be the image")
}

func TestUnavailableProviderFailsCalls(t *testing.T) {
	p := newTestProvider(nil, true)
	p.model = nil

	assert.False(t, p.IsAvailable())

	_, err := p.AnalyzeText(context.Background(), "text", Options{})
	assert.Error(t, err)

	_, err = p.AnalyzeImage(context.Background(), "x.jpg", "", Options{Kind: KindBasic})
	assert.Error(t, err)
}

func TestFactoryCreateUnknownProvider(t *testing.T) {
	f := NewFactoryWithKeys(map[string]string{}, logger.NewNopLogger())

	_, err := f.Create(context.Background(), "claude")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestFactoryCreateMissingKey(t *testing.T) {
	f := NewFactoryWithKeys(map[string]string{}, logger.NewNopLogger())

	_, err := f.Create(context.Background(), ProviderOpenAI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing API key")
}

func TestFactoryCreateAnySkipsUnavailable(t *testing.T) {
	// Only deepseek has a key; openai and gemini must be skipped.
	f := NewFactoryWithKeys(map[string]string{
		ProviderDeepSeek: "test-key",
	}, logger.NewNopLogger())

	provider, err := f.CreateAny(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ProviderDeepSeek, provider.Name())
	assert.False(t, provider.SupportsVision())
}

func TestFactoryCreateAnyNoneAvailable(t *testing.T) {
	f := NewFactoryWithKeys(map[string]string{}, logger.NewNopLogger())

	_, err := f.CreateAny(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no LLM provider is available")
	for _, name := range PreferenceOrder {
		assert.Contains(t, err.Error(), name)
	}
}

func TestFactoryDescribe(t *testing.T) {
	f := NewFactoryWithKeys(map[string]string{
		ProviderOpenAI: "sk-x",
		ProviderKimi:   "mk-x",
	}, logger.NewNopLogger())

	infos := f.Describe()
	require.Len(t, infos, 4)

	byName := make(map[string]ProviderInfo)
	for _, info := range infos {
		byName[info.Name] = info
	}

	assert.True(t, byName[ProviderOpenAI].Available)
	assert.True(t, byName[ProviderOpenAI].Vision)
	assert.False(t, byName[ProviderGemini].Available)
	assert.True(t, byName[ProviderGemini].Vision)
	assert.False(t, byName[ProviderDeepSeek].Available)
	assert.True(t, byName[ProviderKimi].Available)
	assert.False(t, byName[ProviderKimi].Vision)
}
