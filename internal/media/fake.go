package media

import (
	"context"
	"fmt"
)

// FakeStages is a deterministic, in-memory implementation of Stages, for
// tests and local runs without a sibling media-processing service —
// mirroring the teacher's mock-collaborator idiom (MockJuryClient,
// MockEntropyMonitor) of returning fixed, inspectable results instead of
// calling out over the network.
type FakeStages struct {
	// FailReferences makes Synthesize return an error, exercising the
	// reference-synthesis stage's degradable fallback path.
	FailReferences bool
	// ClipCount controls how many clip URLs GenerateClips returns.
	ClipCount int
}

func NewFakeStages() *FakeStages {
	return &FakeStages{ClipCount: 3}
}

func (f *FakeStages) Analyze(ctx context.Context, jobID, audioURL string) (*AudioAnalysis, error) {
	return &AudioAnalysis{
		DurationSeconds: 180,
		BPM:             120,
		BeatTimestamps:  []float64{0, 0.5, 1, 1.5},
		Structure:       []string{"intro", "verse", "chorus", "outro"},
		Mood:            "upbeat",
		Lyrics:          nil,
		ClipBoundaries:  []float64{0, 45, 90, 135, 180},
	}, nil
}

func (f *FakeStages) Plan(ctx context.Context, jobID, prompt string, analysis *AudioAnalysis) (*ScenePlan, error) {
	scenes := make([]Scene, 0, len(analysis.ClipBoundaries)-1)
	for i := 0; i+1 < len(analysis.ClipBoundaries); i++ {
		scenes = append(scenes, Scene{
			Index:       i,
			Description: fmt.Sprintf("scene %d for %q", i, prompt),
			StartSecond: analysis.ClipBoundaries[i],
			EndSecond:   analysis.ClipBoundaries[i+1],
		})
	}
	return &ScenePlan{Scenes: scenes, Transitions: []string{"cut", "fade"}}, nil
}

func (f *FakeStages) Synthesize(ctx context.Context, jobID string, plan *ScenePlan) (*References, error) {
	if f.FailReferences {
		return nil, fmt.Errorf("reference synthesis unavailable")
	}
	urls := make([]string, 0, len(plan.Scenes))
	for i := range plan.Scenes {
		urls = append(urls, fmt.Sprintf("https://fake-objectstore.local/refs/%s/%d.png", jobID, i))
	}
	return &References{ImageURLs: urls}, nil
}

func (f *FakeStages) BuildPrompts(ctx context.Context, jobID string, plan *ScenePlan, refs *References) (*ClipPrompts, error) {
	prompts := make([]string, 0, len(plan.Scenes))
	for _, s := range plan.Scenes {
		prompts = append(prompts, s.Description)
	}
	return &ClipPrompts{Prompts: prompts}, nil
}

func (f *FakeStages) GenerateClips(ctx context.Context, jobID string, prompts *ClipPrompts) (*Clips, error) {
	n := f.ClipCount
	if n <= 0 {
		n = 3
	}
	urls := make([]string, n)
	for i := 0; i < n; i++ {
		urls[i] = fmt.Sprintf("https://fake-objectstore.local/clips/%s/%d.mp4", jobID, i)
	}
	return &Clips{ClipURLs: urls}, nil
}

func (f *FakeStages) Compose(ctx context.Context, req *CompositionRequest) (*VideoOutput, error) {
	return &VideoOutput{
		VideoURL:        fmt.Sprintf("https://fake-objectstore.local/videos/%s.mp4", req.JobID),
		DurationSeconds: 180,
	}, nil
}
