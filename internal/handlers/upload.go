package handlers

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/config"
	"github.com/ocx/videogen/internal/ledger"
	"github.com/ocx/videogen/internal/objectstore"
	"github.com/ocx/videogen/internal/queue"
	"github.com/ocx/videogen/internal/ratelimit"
	"github.com/ocx/videogen/internal/store"
)

const maxUploadBytes = 10 << 20 // 10 MiB

// audioSignatures maps the leading bytes of a supported audio container to
// its canonical name, used to validate the upload without fully decoding it.
var audioSignatures = []struct {
	name   string
	prefix []byte
}{
	{"mp3", []byte{0xFF, 0xFB}},
	{"mp3", []byte{0xFF, 0xF3}},
	{"mp3", []byte("ID3")},
	{"wav", []byte("RIFF")},
	{"flac", []byte("fLaC")},
	{"ogg", []byte("OggS")},
}

// UploadHandler admits a new job: validates the uploaded audio and prompt,
// estimates cost, checks budget and rate limit, persists the object and
// job row, and enqueues the job for the Worker Pool.
type UploadHandler struct {
	cfg     *config.Config
	store   store.Store
	objects objectstore.ObjectStore
	ledger  *ledger.Ledger
	queue   *queue.Queue
	limiter *ratelimit.Limiter
}

func NewUploadHandler(cfg *config.Config, st store.Store, objs objectstore.ObjectStore, lg *ledger.Ledger, q *queue.Queue, limiter *ratelimit.Limiter) *UploadHandler {
	return &UploadHandler{cfg: cfg, store: st, objects: objs, ledger: lg, queue: q, limiter: limiter}
}

func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20) // leave headroom for form fields
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, r, apierr.Validation("malformed multipart upload: %v", err))
		return
	}

	prompt := strings.TrimSpace(r.FormValue("user_prompt"))
	if len(prompt) < 50 || len(prompt) > 500 {
		WriteError(w, r, apierr.Validation("user_prompt must be between 50 and 500 characters after trimming"))
		return
	}

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		WriteError(w, r, apierr.Validation("audio_file is required: %v", err))
		return
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		WriteError(w, r, apierr.Validation("audio file exceeds 10 MiB limit"))
		return
	}

	head := make([]byte, 12)
	n, _ := io.ReadFull(file, head)
	head = head[:n]
	if !matchesAudioSignature(head) {
		WriteError(w, r, apierr.Validation("audio_file does not match a supported format (mp3, wav, flac, ogg)"))
		return
	}
	rest, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, r, apierr.Validation("failed to read uploaded audio: %v", err))
		return
	}
	full := append(head, rest...)

	durationSeconds := estimateDurationSeconds(full)
	durationMinutes := durationSeconds / 60

	estimatedCostUSD := h.cfg.EstimateGenerationCostUSD(durationMinutes)
	estimatedCostMillidollars := int64(estimatedCostUSD * 1000)

	// There is no job row yet at admission time, so the budget check is a
	// direct comparison against the environment's ceiling rather than the
	// Cost Ledger's WouldExceed (which reads an existing job's running
	// total).
	budgetLimitMillidollars := int64(h.cfg.BudgetLimitUSD() * 1000)
	if estimatedCostMillidollars > budgetLimitMillidollars {
		WriteError(w, r, apierr.BudgetExceeded("estimated cost $%.2f exceeds the %s budget", estimatedCostUSD, h.cfg.Server.Env))
		return
	}

	// Rate Limiter is consulted last: the window records successful
	// admissions, so a request that fails validation or the budget check
	// must not consume one of the user's five admission slots.
	admitted, retryAfter, err := h.limiter.Allow(r.Context(), userID)
	if err != nil {
		WriteError(w, r, apierr.RateLimited(retryAfter, "rate limiter unavailable"))
		return
	}
	if !admitted {
		WriteError(w, r, apierr.RateLimited(retryAfter, "rate limit exceeded"))
		return
	}

	jobID := uuid.NewString()
	objectPath := fmt.Sprintf("%s/%s/%s", userID, jobID, header.Filename)
	if err := h.objects.Upload(r.Context(), "audio-uploads", objectPath, full, header.Header.Get("Content-Type")); err != nil {
		slog.Error("upload: store audio object", "job_id", jobID, "error", err)
		WriteError(w, r, apierr.Retryable(err, "failed to store uploaded audio"))
		return
	}

	job := &store.Job{
		ID:                        jobID,
		UserID:                    userID,
		Status:                    store.JobStatusQueued,
		AudioURL:                  fmt.Sprintf("audio-uploads/%s", objectPath),
		UserPrompt:                prompt,
		DurationSecs:              durationSeconds,
		Filename:                  header.Filename,
		EstimatedCostMillidollars: estimatedCostMillidollars,
	}
	if err := h.store.CreateJob(r.Context(), job); err != nil {
		WriteError(w, r, apierr.Retryable(err, "failed to persist job"))
		return
	}

	if err := h.queue.Enqueue(r.Context(), queue.Entry{
		JobID: jobID, UserID: userID, AudioURL: job.AudioURL, UserPrompt: prompt,
	}); err != nil {
		WriteError(w, r, apierr.Retryable(err, "failed to enqueue job"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]interface{}{
		"job_id":         jobID,
		"status":         job.Status,
		"estimated_cost": estimatedCostUSD,
		"created_at":     time.Now().UTC(),
	})
}

func matchesAudioSignature(head []byte) bool {
	for _, sig := range audioSignatures {
		if bytes.HasPrefix(head, sig.prefix) {
			return true
		}
	}
	return false
}

// estimateDurationSeconds reads a coarse duration from the container
// header without fully decoding the audio, per the admission contract.
// WAV carries an exact byte-rate in its fmt chunk; other formats fall back
// to a byte-size heuristic at a typical compressed bitrate, which is
// accurate enough for a cost estimate.
func estimateDurationSeconds(data []byte) float64 {
	if len(data) > 44 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		byteRate := uint32(data[28]) | uint32(data[29])<<8 | uint32(data[30])<<16 | uint32(data[31])<<24
		if byteRate > 0 {
			return float64(len(data)) / float64(byteRate)
		}
	}
	const assumedBitrateBytesPerSec = 16000 // ~128kbps
	return float64(len(data)) / assumedBitrateBytesPerSec
}
