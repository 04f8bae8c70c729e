package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/YannKr/wmmaker/internal/config"
	"github.com/YannKr/wmmaker/internal/db"
	"github.com/YannKr/wmmaker/internal/sse"
	"github.com/YannKr/wmmaker/internal/watermark"
)

const fakeFFprobe = `#!/bin/sh
cat <<'JSON'
{"streams":[{"index":0,"codec_type":"video","codec_name":"h264","width":1280,"height":720,"avg_frame_rate":"30/1"},
{"index":1,"codec_type":"audio","codec_name":"aac"}],
"format":{"format_name":"mov,mp4,m4a,3gp,3g2,mj2","duration":"9.000000"}}
JSON
`

// mp4Header is the smallest ftyp box http.DetectContentType recognizes.
var mp4Header = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")

type testServer struct {
	h      *Handler
	router http.Handler
	cfg    *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffprobe needs a POSIX shell")
	}
	dataDir := t.TempDir()
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "ffprobe"), []byte(fakeFFprobe), 0755))

	wm := filepath.Join(bin, "wm.png")
	writePNG(t, wm)

	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.FFprobePath = filepath.Join(bin, "ffprobe")
	cfg.WatermarkImage = wm

	database, err := db.Open(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, os.DirFS("../..")))

	h := New(database, cfg, os.DirFS("../../templates"), sse.New())
	rl := NewRateLimiter(100, 100)
	t.Cleanup(rl.Stop)
	return &testServer{h: h, router: h.Routes(os.DirFS("../../static"), rl), cfg: cfg}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewNRGBA(image.Rect(0, 0, 32, 12))))
}

func multipartBody(t *testing.T, field, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) uploadVideo(t *testing.T) apiVideo {
	t.Helper()
	body, ct := multipartBody(t, "file", "clip.mp4", append(mp4Header, make([]byte, 64)...), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", ct)
	rec := s.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var v apiVideo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAPIVideoLifecycle(t *testing.T) {
	s := newTestServer(t)
	v := s.uploadVideo(t)
	assert.Equal(t, "clip.mp4", v.Title)
	assert.Equal(t, "video/mp4", v.MimeType)
	assert.Equal(t, 9.0, v.DurationSecs)
	assert.True(t, v.HasAudio)
	assert.FileExists(t, filepath.Join(s.cfg.DataDir, "originals", v.ID+".mp4"))

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data  []apiVideo `json:"data"`
		Total int        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+v.ID+"/exports",
		strings.NewReader(`{"seed": 5, "callback_url": "http://example.invalid/hook"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = s.do(t, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var e apiExport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "PENDING", e.State)
	assert.Equal(t, int64(5), e.Seed)
	assert.Equal(t, "/api/v1/exports/"+e.ID, rec.Header().Get("Location"))

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+v.ID+"/exports", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+e.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/videos/"+v.ID, nil))
	assert.Equal(t, http.StatusConflict, rec.Code, "cannot delete while an export is queued")
}

func TestAPIPlanIsDeterministic(t *testing.T) {
	s := newTestServer(t)
	v := s.uploadVideo(t)

	plan := func() watermark.Report {
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+v.ID+"/plan?seed=11", nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var rep watermark.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
		return rep
	}
	a, b := plan(), plan()
	assert.Equal(t, a.Placements, b.Placements)
	require.NotEmpty(t, a.Placements)
	assert.Equal(t, int64(11), a.Seed)
	assert.InDelta(t, 0.01, a.Placements[0].BeginSecs, 1e-9)
	assert.Equal(t, watermark.Size{Width: 166, Height: 64}, a.Placements[0].Frame.Size)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+v.ID+"/plan?seed=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIRejectsUnsupportedUpload(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartBody(t, "file", "notes.txt", []byte("hello"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", ct)
	rec := s.do(t, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNSUPPORTED_MEDIA_TYPE")
}

func TestAPIExportWithCustomImage(t *testing.T) {
	s := newTestServer(t)
	v := s.uploadVideo(t)

	img := filepath.Join(t.TempDir(), "logo.png")
	writePNG(t, img)
	content, err := os.ReadFile(img)
	require.NoError(t, err)

	body, ct := multipartBody(t, "image", "logo.png", content, map[string]string{"legacy": "true"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+v.ID+"/exports", body)
	req.Header.Set("Content-Type", ct)
	rec := s.do(t, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var e apiExport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.True(t, e.Legacy)
	stored, err := db.GetExport(s.h.DB, e.ID)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(s.cfg.DataDir, stored.ImagePath))
}

func TestAPIExportQueueFailureDiscardsImage(t *testing.T) {
	s := newTestServer(t)
	v := s.uploadVideo(t)
	_, err := s.h.DB.Exec(`CREATE TRIGGER exports_unavailable BEFORE INSERT ON exports
		BEGIN SELECT RAISE(ABORT, 'database is locked'); END`)
	require.NoError(t, err)

	img := filepath.Join(t.TempDir(), "logo.png")
	writePNG(t, img)
	content, err := os.ReadFile(img)
	require.NoError(t, err)

	body, ct := multipartBody(t, "image", "logo.png", content, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+v.ID+"/exports", body)
	req.Header.Set("Content-Type", ct)
	rec := s.do(t, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, rec.Body.String(), "database is locked")

	left, err := filepath.Glob(filepath.Join(s.cfg.DataDir, "images", "*"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("wm_secret"), bcrypt.MinCost)
	require.NoError(t, err)
	s.cfg.APIKeyHash = string(hash)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil)
	req.Header.Set("Authorization", "Bearer wm_secret")
	assert.Equal(t, http.StatusOK, s.do(t, req).Code)
}

func TestAPIRateLimited(t *testing.T) {
	s := newTestServer(t)
	var last int
	for i := 0; i < 70; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil)
		req.RemoteAddr = "10.0.0.1:" + strings.Repeat("1", 1+i%4)
		last = s.do(t, req).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestPages(t *testing.T) {
	s := newTestServer(t)
	v := s.uploadVideo(t)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Upload a video")
	assert.Contains(t, rec.Body.String(), "clip.mp4")

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/videos/"+v.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Add watermark")
	assert.Contains(t, rec.Body.String(), `/videos/`+v.ID+`/original`)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/videos/not-a-uuid", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/videos/"+v.ID+"/original", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/videos/"+v.ID+"/delete", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code, "form posts need a CSRF token")
}

func TestVideoSSEStreamsEvents(t *testing.T) {
	s := newTestServer(t)
	v := s.uploadVideo(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/videos/"+v.ID+"/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.router.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool { return s.h.SSE.Subscribers("video:"+v.ID) == 1 },
		2*time.Second, 10*time.Millisecond)
	s.h.SSE.Publish("video:"+v.ID, sse.Event{Type: "export_done", Data: `{"export_id":"x"}`})
	s.h.SSE.Publish("video:other", sse.Event{Type: "export_done", Data: `{"export_id":"y"}`})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: export_done\ndata: {\"export_id\":\"x\"}")
	assert.NotContains(t, body, `"y"`)
}
