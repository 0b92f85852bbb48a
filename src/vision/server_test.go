package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/answer"
	"snap-answer-server/src/core/auth"
	"snap-answer-server/src/core/camera"
	"snap-answer-server/src/core/events"
	"snap-answer-server/src/core/image"
	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/core/utils"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	answer string
	err    error
	seen   []image.ImagePayload
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Answer(ctx context.Context, payload image.ImagePayload) (string, error) {
	p.seen = append(p.seen, payload)
	return p.answer, p.err
}

func (p *stubProvider) Cleanup() error { return nil }

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(w, h, color.NRGBA{B: 255, A: 255}), imaging.PNG))
	return buf.Bytes()
}

type harness struct {
	router   *gin.Engine
	provider *stubProvider
	answers  *answer.Orchestrator
}

func newHarness(t *testing.T, provider *stubProvider, devices ...configs.DeviceEntry) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := utils.NewLoggerWithWriter("error", nil)
	cfg := &configs.Config{}

	md, err := camera.NewMediaDevices(configs.CameraConfig{Backend: "file", Devices: devices}, logger)
	require.NoError(t, err)
	cam := camera.NewSession(md, camera.Options{}, logger)
	answers := answer.NewOrchestrator(provider, logger)
	authenticator, err := auth.NewAuthenticator(cfg, logger)
	require.NoError(t, err)
	hub := events.NewHub(logger)

	svc, err := NewDefaultVisionService(cfg, answers, cam, image.NewImageProcessor(configs.DefaultSecurityConfig(), logger), hub, authenticator, logger)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Cleanup() })

	r := gin.New()
	require.NoError(t, svc.Start(context.Background(), r, r.Group("/api")))
	return &harness{router: r, provider: provider, answers: answers}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	var data []byte
	if body != nil {
		data, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

func (h *harness) upload(t *testing.T, path, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return h.do(req)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestUploadThenAnswer(t *testing.T) {
	h := newHarness(t, &stubProvider{answer: "A solid blue square."})

	w := h.upload(t, "/api/image", "blue.png", "image/png", pngBytes(t, 90, 90))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state := decode[StateResponse](t, w).State
	require.NotNil(t, state.Image)
	assert.True(t, strings.HasPrefix(state.Image.Data, "data:image/png;base64,"))
	assert.Equal(t, answer.StatusIdle, state.Status)

	w = h.postJSON("/api/answer", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[StateResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "A solid blue square.", resp.State.Result)
	require.Len(t, h.provider.seen, 1)
	assert.Equal(t, "image/png", h.provider.seen[0].MimeType)
}

func TestAnswerWithoutImage(t *testing.T) {
	h := newHarness(t, &stubProvider{answer: "x"})
	w := h.postJSON("/api/answer", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.provider.seen)
}

func TestAnswerFailureMessage(t *testing.T) {
	h := newHarness(t, &stubProvider{err: &vlllm.HttpError{Vendor: "openai", Status: 401, Message: "Incorrect API key provided"}})
	require.Equal(t, http.StatusOK, h.upload(t, "/api/image", "a.png", "image/png", pngBytes(t, 10, 10)).Code)

	w := h.postJSON("/api/answer", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	resp := decode[StateResponse](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, answer.StatusFailure, resp.State.Status)
	assert.True(t, strings.HasPrefix(resp.Message, answer.FailurePrefix))
	assert.Contains(t, resp.Message, "Incorrect API key provided")
}

func TestUploadRejectsNonImage(t *testing.T) {
	h := newHarness(t, &stubProvider{answer: "x"})
	w := h.upload(t, "/api/image", "notes.txt", "text/plain", []byte("hello, this is not an image"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[StateResponse](t, w)
	assert.Contains(t, resp.Message, "Failed to read the image file")
	assert.Nil(t, resp.State.Image)
}

func TestOneShotVision(t *testing.T) {
	h := newHarness(t, &stubProvider{answer: "B"})
	w := h.upload(t, "/api/vision", "q.png", "image/png", pngBytes(t, 20, 20))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[VisionResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "B", resp.Result)

	// 一次性分析不改变当前展示的状态
	assert.Nil(t, h.answers.Snapshot().Image)

	get := h.do(httptest.NewRequest(http.MethodGet, "/api/vision", nil))
	assert.Equal(t, http.StatusOK, get.Code)
	assert.Contains(t, get.Body.String(), "stub")

	opts := h.do(httptest.NewRequest(http.MethodOptions, "/api/vision", nil))
	assert.Equal(t, http.StatusOK, opts.Code)
	assert.Equal(t, "*", opts.Header().Get("Access-Control-Allow-Origin"))
}

func TestOneShotVisionNetworkFailure(t *testing.T) {
	h := newHarness(t, &stubProvider{err: &vlllm.NetworkError{Vendor: "gemini", Err: context.DeadlineExceeded}})
	w := h.upload(t, "/api/vision", "q.png", "image/png", pngBytes(t, 20, 20))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	resp := decode[VisionResponse](t, w)
	assert.True(t, strings.HasPrefix(resp.Message, answer.FailurePrefix))
}

func TestCameraCaptureFlow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "front.png")
	require.NoError(t, imaging.Save(imaging.New(64, 48, color.NRGBA{G: 255, A: 255}), path))
	h := newHarness(t, &stubProvider{answer: "green"}, configs.DeviceEntry{ID: "front", Path: path})

	w := h.postJSON("/api/camera/open", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cam := decode[CameraResponse](t, w).Camera
	assert.True(t, cam.Open)
	assert.Equal(t, "front", cam.ActiveDeviceID)
	assert.False(t, cam.CanSwitch)
	assert.True(t, h.answers.Snapshot().CameraOpen)

	w = h.postJSON("/api/camera/switch", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[CameraResponse](t, w)
	require.NotNil(t, resp.Switched)
	assert.False(t, *resp.Switched)
	assert.Equal(t, "front", resp.Camera.ActiveDeviceID)

	w = h.postJSON("/api/camera/zoom", map[string]float64{"zoom": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.postJSON("/api/camera/focus", map[string]float64{"x": 0.5, "y": 0.5})
	require.Equal(t, http.StatusOK, w.Code)
	focus := decode[CameraResponse](t, w).Camera.Focus
	require.NotNil(t, focus)
	assert.True(t, focus.Visible)

	w = h.postJSON("/api/camera/capture", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state := decode[StateResponse](t, w).State
	require.NotNil(t, state.Image)
	assert.Equal(t, "image/jpeg", state.Image.MimeType)
	assert.False(t, state.CameraOpen)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/camera", nil))
	assert.False(t, decode[CameraResponse](t, w).Camera.Open)
}

func TestCameraOpenWithoutDevices(t *testing.T) {
	h := newHarness(t, &stubProvider{answer: "x"})
	w := h.postJSON("/api/camera/open", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode[CameraResponse](t, w)
	assert.Equal(t, string(camera.ReasonNoDevice), resp.Reason)
	assert.Contains(t, resp.Message, "Could not access camera")
	assert.False(t, resp.Camera.Open)
}

func TestCameraCommandsRequireOpen(t *testing.T) {
	h := newHarness(t, &stubProvider{answer: "x"})
	assert.Equal(t, http.StatusConflict, h.postJSON("/api/camera/capture", nil).Code)
	assert.Equal(t, http.StatusConflict, h.postJSON("/api/camera/switch", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.postJSON("/api/camera/focus", map[string]string{}).Code)
}

func TestResetClearsState(t *testing.T) {
	h := newHarness(t, &stubProvider{answer: "x"})
	require.Equal(t, http.StatusOK, h.upload(t, "/api/image", "a.png", "image/png", pngBytes(t, 10, 10)).Code)

	w := h.postJSON("/api/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode[StateResponse](t, w).State
	assert.Nil(t, state.Image)
	assert.Equal(t, answer.StatusIdle, state.Status)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/state", nil))
	assert.Nil(t, decode[StateResponse](t, w).State.Image)
}

func TestAuthEnforcedWhenEnabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := utils.NewLoggerWithWriter("error", nil)
	cfg := &configs.Config{}
	cfg.Server.Auth.Enabled = true
	cfg.Server.Auth.Tokens = []configs.TokenConfig{{Token: "kiosk-token"}}

	md, err := camera.NewMediaDevices(configs.CameraConfig{Backend: "file"}, logger)
	require.NoError(t, err)
	authenticator, err := auth.NewAuthenticator(cfg, logger)
	require.NoError(t, err)
	svc, err := NewDefaultVisionService(cfg,
		answer.NewOrchestrator(&stubProvider{answer: "x"}, logger),
		camera.NewSession(md, camera.Options{}, logger),
		image.NewImageProcessor(configs.DefaultSecurityConfig(), logger),
		events.NewHub(logger), authenticator, logger)
	require.NoError(t, err)

	r := gin.New()
	require.NoError(t, svc.Start(context.Background(), r, r.Group("/api")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Authorization", "Bearer kiosk-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/state", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
