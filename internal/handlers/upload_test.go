package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/config"
	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/ledger"
	"github.com/ocx/videogen/internal/objectstore"
	"github.com/ocx/videogen/internal/queue"
	"github.com/ocx/videogen/internal/ratelimit"
	"github.com/ocx/videogen/internal/store"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Env = "development"
	cfg.Budget.DevLimitUSD = 50
	cfg.Budget.DevCostPerMin = 1.5
	cfg.Budget.DevCostFloorUSD = 2
	cfg.Budget.ShardCount = 4
	return cfg
}

func buildUploadHandler(cfg *config.Config) (*UploadHandler, store.Store) {
	st := store.NewMemoryStore()
	gw := fabric.NewMemoryGateway()
	objs := objectstore.NewMemoryObjectStore()
	lg := ledger.New(st, cfg.Budget.ShardCount, func(env string) int64 { return int64(cfg.BudgetLimitUSD() * 1000) })
	q := queue.New(gw, "queue:test", time.Minute)
	limiter := ratelimit.NewLimiter(gw, ratelimit.Config{Window: time.Minute, MaxAdmits: 100, FailPolicy: ratelimit.FailOpen})
	return NewUploadHandler(cfg, st, objs, lg, q, limiter), st
}

func multipartUploadBody(t *testing.T, prompt string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("user_prompt", prompt))
	part, err := w.CreateFormFile("audio_file", "clip.wav")
	require.NoError(t, err)
	_, err = part.Write(audio)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func wavFixture() []byte {
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	copy(header[8:12], "WAVE")
	header[28] = 0x80
	header[29] = 0x3E
	return append(header, make([]byte, 16000)...)
}

func TestUploadHandler_RejectsShortPrompt(t *testing.T) {
	h, _ := buildUploadHandler(testConfig())
	body, contentType := multipartUploadBody(t, "too short", wavFixture())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/upload-audio", body)
	r.Header.Set("Content-Type", contentType)
	r = r.WithContext(withUserID(context.Background(), "user-a"))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadHandler_RejectsUnrecognizedAudioFormat(t *testing.T) {
	h, _ := buildUploadHandler(testConfig())
	prompt := strings.Repeat("a", 60)
	body, contentType := multipartUploadBody(t, prompt, []byte("not a real audio file at all"))

	r := httptest.NewRequest(http.MethodPost, "/api/v1/upload-audio", body)
	r.Header.Set("Content-Type", contentType)
	r = r.WithContext(withUserID(context.Background(), "user-a"))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadHandler_AdmitsValidWavAndEnqueues(t *testing.T) {
	h, st := buildUploadHandler(testConfig())
	prompt := strings.Repeat("a", 60)
	body, contentType := multipartUploadBody(t, prompt, wavFixture())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/upload-audio", body)
	r.Header.Set("Content-Type", contentType)
	r = r.WithContext(withUserID(context.Background(), "user-a"))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"queued"`)

	jobs, err := st.ListJobsByUser(context.Background(), "user-a", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.JobStatusQueued, jobs[0].Status)
}
