package media

import "context"

// AnalysisCollaborator extracts audio features. Not degradable.
type AnalysisCollaborator interface {
	Analyze(ctx context.Context, jobID, audioURL string) (*AudioAnalysis, error)
}

// PlanningCollaborator plans scenes from a prompt and the audio analysis.
// Not degradable.
type PlanningCollaborator interface {
	Plan(ctx context.Context, jobID, prompt string, analysis *AudioAnalysis) (*ScenePlan, error)
}

// ReferenceCollaborator synthesizes reference images for a scene plan.
// Degradable: a failure here is recorded as a fallback and subsequent
// stages receive a nil *References.
type ReferenceCollaborator interface {
	Synthesize(ctx context.Context, jobID string, plan *ScenePlan) (*References, error)
}

// PromptCollaborator constructs per-clip prompts. Not degradable.
type PromptCollaborator interface {
	BuildPrompts(ctx context.Context, jobID string, plan *ScenePlan, refs *References) (*ClipPrompts, error)
}

// ClipCollaborator generates video clips from prompts. Not degradable;
// requires at least three clips.
type ClipCollaborator interface {
	GenerateClips(ctx context.Context, jobID string, prompts *ClipPrompts) (*Clips, error)
}

// CompositionCollaborator composes clips, audio and beat timing into the
// final video. Not degradable.
type CompositionCollaborator interface {
	Compose(ctx context.Context, req *CompositionRequest) (*VideoOutput, error)
}

// Stages bundles every collaborator the Orchestrator depends on, so the
// pipeline package can take a single dependency rather than six.
type Stages interface {
	AnalysisCollaborator
	PlanningCollaborator
	ReferenceCollaborator
	PromptCollaborator
	ClipCollaborator
	CompositionCollaborator
}
