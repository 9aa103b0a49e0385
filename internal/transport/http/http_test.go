package httptransport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appsession "glass-server-go/internal/app/session"
	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/domain/agent"
	"glass-server-go/internal/domain/image"
	"glass-server-go/internal/domain/photo"
	"glass-server-go/internal/platform/config"
	apperrors "glass-server-go/internal/platform/errors"
	testutil "glass-server-go/internal/platform/testing"
)

type stubVision struct{}

func (stubVision) Name() string  { return "stub" }
func (stubVision) Close() error  { return nil }
func (stubVision) Model() string { return "stub" }
func (stubVision) Describe(_ context.Context, img providers.ImageInput) (string, error) {
	return "a " + img.Format + " photo", nil
}

type stubReasoner struct{}

func (stubReasoner) Name() string { return "stub" }
func (stubReasoner) Close() error { return nil }
func (stubReasoner) Answer(_ context.Context, q, _ string) (string, error) {
	return "you asked " + q, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*appsession.Session, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testutil.SetupTestConfig(t)
	cfg.Agent.ResyncDebounce = 0
	cfg.Agent.SpeakAnswers = false
	if mutate != nil {
		mutate(cfg)
	}
	logger := testutil.SetupTestLogger(t)

	app, err := appsession.New(appsession.Options{
		Config: cfg, Logger: logger, Vision: stubVision{}, Reasoning: stubReasoner{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	srv, err := NewServer(ServerOptions{
		Config: cfg,
		Logger: logger,
		App:    app,
		Components: map[string]StatusFunc{
			"websocket": func() any { return gin.H{"devices": 0} },
		},
	})
	require.NoError(t, err)
	return app, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, header http.Header) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func jsonHeader() http.Header {
	return http.Header{"Content-Type": []string{"application/json"}}
}

func TestUploadListAndDescribe(t *testing.T) {
	app, h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodPost, "/api/photos", testutil.PNG(t, 4, 4, color.White),
		http.Header{"Content-Type": []string{"image/png"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var stored photo.Photo
	require.NoError(t, sonic.Unmarshal(env.Data, &stored))
	assert.Equal(t, uint64(1), stored.ID)

	app.Settle()

	rec, env = do(t, h, http.MethodGet, "/api/photos", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Photos []photoView `json:"photos"`
	}
	require.NoError(t, sonic.Unmarshal(env.Data, &listing))
	require.Len(t, listing.Photos, 1)
	assert.Equal(t, "a png photo", listing.Photos[0].Description)

	rec, _ = do(t, h, http.MethodGet, "/api/photos/1/image", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec, env = do(t, h, http.MethodGet, "/api/photos/1/description", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "a png photo")

	rec, _ = do(t, h, http.MethodGet, "/api/photos/9/description", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/api/photos/abc/image", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, h, http.MethodGet, "/api/state", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st agent.State
	require.NoError(t, sonic.Unmarshal(env.Data, &st))
	assert.Equal(t, 1, st.Photos)
	assert.Equal(t, "a png photo", st.LastDescription)
}

func TestMultipartUploadAndRejection(t *testing.T) {
	_, h := newTestServer(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "shot.jpg")
	require.NoError(t, err)
	_, err = fw.Write(testutil.JPEG(t, 8, 8, color.Black))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec, _ := do(t, h, http.MethodPost, "/api/photos", body.Bytes(),
		http.Header{"Content-Type": []string{mw.FormDataContentType()}})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, env := do(t, h, http.MethodPost, "/api/photos", []byte("definitely not an image"),
		http.Header{"Content-Type": []string{"image/jpeg"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, env.Success)

	rec, _ = do(t, h, http.MethodPost, "/api/photos", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVisionPreviewDoesNotStore(t *testing.T) {
	app, h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodPost, "/api/vision", testutil.JPEG(t, 8, 8, color.White), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "a jpeg photo")
	assert.Empty(t, app.Photos())
}

func TestAnswer(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodPost, "/api/answer", []byte(`{"question":"what is this?"}`), jsonHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	var resp answerResponse
	require.NoError(t, sonic.Unmarshal(env.Data, &resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, "you asked what is this?", resp.Answer)

	rec, _ = do(t, h, http.MethodPost, "/api/answer", []byte(`{"question":"  "}`), jsonHeader())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaptureWithoutDevice(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodPost, "/api/capture", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, photo.ErrControlUnavailable.Error(), env.Message)
}

func TestClearPhotos(t *testing.T) {
	app, h := newTestServer(t, nil)
	_, err := app.Ingest(testutil.JPEG(t, 8, 8, color.White))
	require.NoError(t, err)
	app.Settle()

	rec, env := do(t, h, http.MethodDelete, "/api/photos", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st agent.State
	require.NoError(t, sonic.Unmarshal(env.Data, &st))
	assert.Equal(t, 0, st.Photos)
	assert.Empty(t, app.Photos())
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) { cfg.Server.Token = "secret" })

	rec, env := do(t, h, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report healthReport
	require.NoError(t, sonic.Unmarshal(env.Data, &report))
	assert.Equal(t, "ok", report.Status)
	assert.Positive(t, report.System.Goroutines)
	assert.Contains(t, report.Components, "websocket")
}

func TestServerTokenAuth(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) { cfg.Server.Token = "secret" })

	rec, _ := do(t, h, http.MethodGet, "/api/state", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/state", nil, http.Header{"Authorization": []string{"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/state", nil, http.Header{"Authorization": []string{"Bearer secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/state?token=secret", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/auth/token", []byte(`{"token":"secret"}`), jsonHeader())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJWTExchange(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.Token = "secret"
		cfg.Web.JWT = config.JWTConfig{Enabled: true, Secret: "jwt-secret", Issuer: "glass", Expiry: time.Minute}
	})

	rec, _ := do(t, h, http.MethodPost, "/api/auth/token", []byte(`{"token":"nope"}`), jsonHeader())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := do(t, h, http.MethodPost, "/api/auth/token", []byte(`{"token":"secret","subject":"phone"}`), jsonHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	var tok tokenResponse
	require.NoError(t, sonic.Unmarshal(env.Data, &tok))
	require.NotEmpty(t, tok.Token)

	rec, _ = do(t, h, http.MethodGet, "/api/state", nil, http.Header{"Authorization": []string{"Bearer " + tok.Token}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenIssuer(t *testing.T) {
	disabled, err := NewTokenIssuer(config.JWTConfig{})
	require.NoError(t, err)
	assert.Nil(t, disabled)

	_, err = NewTokenIssuer(config.JWTConfig{Enabled: true})
	assert.Error(t, err)

	issuer, err := NewTokenIssuer(config.JWTConfig{Enabled: true, Secret: "s", Issuer: "glass", Expiry: time.Minute})
	require.NoError(t, err)
	now := time.Now()
	issuer.now = func() time.Time { return now }

	signed, _, err := issuer.Issue("viewer")
	require.NoError(t, err)
	claims, err := issuer.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "viewer", claims.Subject)

	other, err := NewTokenIssuer(config.JWTConfig{Enabled: true, Secret: "s", Issuer: "someone-else"})
	require.NoError(t, err)
	_, err = other.Verify(signed)
	assert.Error(t, err)

	issuer.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = issuer.Verify(signed)
	assert.Error(t, err)
}

func TestStateStream(t *testing.T) {
	app, h := newTestServer(t, nil)
	hs := httptest.NewServer(h)
	defer hs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hs.URL+"/api/state/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := make(chan agent.State, 8)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var st agent.State
			if sonic.UnmarshalString(strings.TrimPrefix(line, "data:"), &st) == nil {
				events <- st
			}
		}
	}()

	first := <-events
	assert.Equal(t, 0, first.Photos)

	_, err = app.Ingest(testutil.JPEG(t, 8, 8, color.White))
	require.NoError(t, err)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case st, ok := <-events:
			require.True(t, ok, "stream closed early")
			if st.Photos == 1 {
				return
			}
		case <-deadline:
			t.Fatal("no snapshot with the new photo")
		}
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{appsession.ErrPhotoNotFound, http.StatusNotFound},
		{photo.ErrAlreadyCapturing, http.StatusConflict},
		{photo.ErrControlUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", image.ErrTooLarge), http.StatusRequestEntityTooLarge},
		{image.ErrCorrupt, http.StatusUnprocessableEntity},
		{apperrors.New(apperrors.KindVision, "describe", "upstream failed"), http.StatusBadGateway},
		{apperrors.New(apperrors.KindProtocol, "parse", "bad frame"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.want, statusOf(tc.err))
		})
	}
}
