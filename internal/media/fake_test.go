package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeStages_HappyPathProducesVideo(t *testing.T) {
	var stages Stages = NewFakeStages()
	ctx := context.Background()

	analysis, err := stages.Analyze(ctx, "job-1", "s3://audio.wav")
	require.NoError(t, err)

	plan, err := stages.Plan(ctx, "job-1", "a synthwave retrospective", analysis)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Scenes)

	refs, err := stages.Synthesize(ctx, "job-1", plan)
	require.NoError(t, err)
	assert.Len(t, refs.ImageURLs, len(plan.Scenes))

	prompts, err := stages.BuildPrompts(ctx, "job-1", plan, refs)
	require.NoError(t, err)

	clips, err := stages.GenerateClips(ctx, "job-1", prompts)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(clips.ClipURLs), 3)

	out, err := stages.Compose(ctx, &CompositionRequest{
		JobID: "job-1", ClipURLs: clips.ClipURLs, AudioURL: "s3://audio.wav",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.VideoURL)
}

func TestFakeStages_DegradableReferenceFailureIsIsolated(t *testing.T) {
	fake := NewFakeStages()
	fake.FailReferences = true
	ctx := context.Background()

	analysis, err := fake.Analyze(ctx, "job-1", "s3://audio.wav")
	require.NoError(t, err)
	plan, err := fake.Plan(ctx, "job-1", "prompt", analysis)
	require.NoError(t, err)

	refs, err := fake.Synthesize(ctx, "job-1", plan)
	require.Error(t, err)
	assert.Nil(t, refs)

	// subsequent stage must tolerate a nil refs input
	prompts, err := fake.BuildPrompts(ctx, "job-1", plan, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, prompts.Prompts)
}
