package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xhsresearch/pkg/logger"
	"xhsresearch/pkg/workflow"
)

type stubStage struct {
	name     string
	key      string
	required bool
	heavy    bool
	err      error
	runs     int
}

func (s *stubStage) Name() string   { return s.name }
func (s *stubStage) Key() string    { return s.key }
func (s *stubStage) Required() bool { return s.required }
func (s *stubStage) Heavy() bool    { return s.heavy }

func (s *stubStage) Run(ctx context.Context, wf *workflow.Config, params Params) error {
	s.runs++
	return s.err
}

func testWorkflow(t *testing.T) *workflow.Config {
	t.Helper()
	wf, err := workflow.New(t.TempDir(), "matcha skincare", "20260115")
	require.NoError(t, err)
	return wf
}

func sevenStubs(failAt int, failErr error) []*stubStage {
	stubs := make([]*stubStage, 7)
	for i := range stubs {
		stubs[i] = &stubStage{
			name:     fmt.Sprintf("stage%d", i+1),
			key:      fmt.Sprintf("step%d_scraped", i+1),
			required: i < 2,
		}
	}
	if failAt > 0 {
		stubs[failAt-1].err = failErr
	}
	return stubs
}

func asStages(stubs []*stubStage) []Stage {
	stages := make([]Stage, len(stubs))
	for i, s := range stubs {
		stages[i] = s
	}
	return stages
}

func TestRunRangeAllStagesSucceed(t *testing.T) {
	stubs := sevenStubs(0, nil)
	seq := NewSequencer(asStages(stubs), logger.NewNopLogger())

	result, err := seq.RunRange(context.Background(), 1, 7, testWorkflow(t), Params{})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Len(t, result.Stages, 7)
	for i, stub := range stubs {
		assert.Equal(t, 1, stub.runs, "stage %d did not run exactly once", i+1)
	}
	for _, sr := range result.Stages {
		assert.Equal(t, StatusCompleted, sr.Status)
	}
	assert.NotEmpty(t, result.ID)
}

func TestRunRangeRequiredFailureStopsRun(t *testing.T) {
	bang := fmt.Errorf("no provider available")
	stubs := sevenStubs(2, bang)
	seq := NewSequencer(asStages(stubs), logger.NewNopLogger())

	result, err := seq.RunRange(context.Background(), 1, 7, testWorkflow(t), Params{})
	require.Error(t, err)

	assert.Equal(t, StateFailedAtRequiredStage, result.State)
	require.Len(t, result.Stages, 2)
	assert.Equal(t, StatusCompleted, result.Stages[0].Status)
	assert.Equal(t, StatusFailed, result.Stages[1].Status)
	assert.ErrorIs(t, result.Stages[1].Err, bang)

	// Stages 3..7 never ran.
	for i := 2; i < 7; i++ {
		assert.Equal(t, 0, stubs[i].runs, "stage %d should not have run", i+1)
	}
}

func TestRunRangeOptionalFailureContinues(t *testing.T) {
	stubs := sevenStubs(4, fmt.Errorf("clustering found no documents"))
	seq := NewSequencer(asStages(stubs), logger.NewNopLogger())

	result, err := seq.RunRange(context.Background(), 1, 7, testWorkflow(t), Params{})
	require.NoError(t, err)

	assert.Equal(t, StateCompletedWithOptionalFailures, result.State)
	assert.Len(t, result.Stages, 7)
	assert.Equal(t, StatusFailed, result.Stages[3].Status)

	for i, stub := range stubs {
		assert.Equal(t, 1, stub.runs, "stage %d did not run", i+1)
	}
}

func TestRunRangeSubset(t *testing.T) {
	stubs := sevenStubs(0, nil)
	seq := NewSequencer(asStages(stubs), logger.NewNopLogger())

	result, err := seq.RunRange(context.Background(), 3, 5, testWorkflow(t), Params{})
	require.NoError(t, err)

	assert.Len(t, result.Stages, 3)
	assert.Equal(t, 3, result.Stages[0].Number)
	assert.Equal(t, 5, result.Stages[2].Number)
	assert.Equal(t, 0, stubs[0].runs)
	assert.Equal(t, 0, stubs[6].runs)
}

func TestRunRangeInvalidRange(t *testing.T) {
	seq := NewSequencer(asStages(sevenStubs(0, nil)), logger.NewNopLogger())

	_, err := seq.RunRange(context.Background(), 6, 2, testWorkflow(t), Params{})
	assert.Error(t, err)
}

func TestWriteReport(t *testing.T) {
	wf := testWorkflow(t)
	stubs := sevenStubs(2, fmt.Errorf("scrape returned no posts"))
	seq := NewSequencer(asStages(stubs), logger.NewNopLogger())

	result, _ := seq.RunRange(context.Background(), 1, 7, wf, Params{})

	path, err := result.WriteReport()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wf.QueryDir, "pipeline_report.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, result.ID)
	assert.Contains(t, text, "matcha skincare")
	assert.Contains(t, text, "failed_at_required_stage")
	assert.Contains(t, text, "scrape returned no posts")
	// Only the two executed stages appear.
	assert.Contains(t, text, "| 1 | stage1 |")
	assert.Contains(t, text, "| 2 | stage2 |")
	assert.NotContains(t, text, "| 3 | stage3 |")
}

func TestCreateProviderWithoutFactory(t *testing.T) {
	_, err := Params{}.CreateProvider(context.Background())
	assert.Error(t, err)
}
