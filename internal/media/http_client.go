package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ocx/videogen/internal/apierr"
)

// HTTPClient calls a sibling media-processing service over plain HTTP,
// one base URL per stage, following the teacher's webhook-dispatcher
// idiom (bounded http.Client, JSON body, structured logging) rather than
// the teacher's gRPC collaborator clients — the sibling service here
// exposes a REST API, not a compiled protobuf service; see the grounding
// ledger for why gRPC was not carried over.
type HTTPClient struct {
	client         *http.Client
	analysisURL    string
	planningURL    string
	referencesURL  string
	promptingURL   string
	generationURL  string
	compositionURL string
}

func NewHTTPClient(analysisURL, planningURL, referencesURL, promptingURL, generationURL, compositionURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		client:         &http.Client{Timeout: timeout},
		analysisURL:    analysisURL,
		planningURL:    planningURL,
		referencesURL:  referencesURL,
		promptingURL:   promptingURL,
		generationURL:  generationURL,
		compositionURL: compositionURL,
	}
}

func (c *HTTPClient) Analyze(ctx context.Context, jobID, audioURL string) (*AudioAnalysis, error) {
	var out AudioAnalysis
	err := c.call(ctx, c.analysisURL, map[string]interface{}{
		"job_id": jobID, "audio_url": audioURL,
	}, &out)
	return &out, err
}

func (c *HTTPClient) Plan(ctx context.Context, jobID, prompt string, analysis *AudioAnalysis) (*ScenePlan, error) {
	var out ScenePlan
	err := c.call(ctx, c.planningURL, map[string]interface{}{
		"job_id": jobID, "prompt": prompt, "analysis": analysis,
	}, &out)
	return &out, err
}

func (c *HTTPClient) Synthesize(ctx context.Context, jobID string, plan *ScenePlan) (*References, error) {
	var out References
	err := c.call(ctx, c.referencesURL, map[string]interface{}{
		"job_id": jobID, "plan": plan,
	}, &out)
	return &out, err
}

func (c *HTTPClient) BuildPrompts(ctx context.Context, jobID string, plan *ScenePlan, refs *References) (*ClipPrompts, error) {
	var out ClipPrompts
	err := c.call(ctx, c.promptingURL, map[string]interface{}{
		"job_id": jobID, "plan": plan, "references": refs,
	}, &out)
	return &out, err
}

func (c *HTTPClient) GenerateClips(ctx context.Context, jobID string, prompts *ClipPrompts) (*Clips, error) {
	var out Clips
	err := c.call(ctx, c.generationURL, map[string]interface{}{
		"job_id": jobID, "prompts": prompts,
	}, &out)
	if err == nil && len(out.ClipURLs) < 3 {
		return &out, apierr.Pipeline(nil, "clip generation returned %d clips, need at least 3", len(out.ClipURLs))
	}
	return &out, err
}

func (c *HTTPClient) Compose(ctx context.Context, req *CompositionRequest) (*VideoOutput, error) {
	var out VideoOutput
	err := c.call(ctx, c.compositionURL, req, &out)
	return &out, err
}

func (c *HTTPClient) call(ctx context.Context, url string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apierr.Pipeline(err, "marshal collaborator request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apierr.Pipeline(err, "build collaborator request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("media: collaborator call failed", "url", url, "error", err)
		return apierr.Retryable(err, "collaborator call to %s failed", url)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		return apierr.Retryable(fmt.Errorf("status %d", resp.StatusCode), "collaborator %s returned %d", url, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return apierr.Pipeline(fmt.Errorf("status %d: %s", resp.StatusCode, respBody), "collaborator %s rejected request", url)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apierr.Pipeline(err, "unmarshal collaborator response from %s", url)
		}
	}
	return nil
}
