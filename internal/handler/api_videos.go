package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/YannKr/wmmaker/internal/db"
	"github.com/YannKr/wmmaker/internal/model"
	"github.com/YannKr/wmmaker/internal/watermark"
)

type apiVideo struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	MimeType      string  `json:"mime_type"`
	FileSizeBytes int64   `json:"file_size_bytes"`
	SHA256        string  `json:"sha256"`
	DurationSecs  float64 `json:"duration_secs"`
	Width         int64   `json:"width"`
	Height        int64   `json:"height"`
	Rotation      int     `json:"rotation"`
	HasAudio      bool    `json:"has_audio"`
	CreatedAt     string  `json:"created_at"`
}

func videoToAPI(v *model.Video) apiVideo {
	return apiVideo{
		ID:            v.ID,
		Title:         v.OriginalName,
		MimeType:      v.MimeType,
		FileSizeBytes: v.FileSize,
		SHA256:        v.SHA256,
		DurationSecs:  v.Duration,
		Width:         v.Width,
		Height:        v.Height,
		Rotation:      v.Rotation,
		HasAudio:      v.HasAudio,
		CreatedAt:     v.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

type apiExport struct {
	ID           string            `json:"id"`
	VideoID      string            `json:"video_id"`
	State        string            `json:"state"`
	Progress     int               `json:"progress"`
	Error        string            `json:"error,omitempty"`
	Legacy       bool              `json:"legacy"`
	Seed         int64             `json:"seed"`
	CallbackURL  string            `json:"callback_url,omitempty"`
	OutputURL    string            `json:"output_url,omitempty"`
	OutputSize   int64             `json:"output_size_bytes,omitempty"`
	OutputSHA256 string            `json:"output_sha256,omitempty"`
	Report       *watermark.Report `json:"report,omitempty"`
	CreatedAt    string            `json:"created_at"`
	CompletedAt  string            `json:"completed_at,omitempty"`
}

func (h *Handler) exportToAPI(e *model.Export) apiExport {
	out := apiExport{
		ID:           e.ID,
		VideoID:      e.VideoID,
		State:        e.State,
		Progress:     e.Progress,
		Error:        e.ErrorMessage,
		Legacy:       e.Legacy,
		Seed:         e.Seed,
		CallbackURL:  e.CallbackURL,
		OutputSize:   e.OutputSize,
		OutputSHA256: e.OutputSHA256,
		CreatedAt:    e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if e.State == model.ExportCompleted {
		out.OutputURL = h.Cfg.BaseURL + "/exports/" + e.ID + "/file"
	}
	if e.CompletedAt != nil {
		out.CompletedAt = e.CompletedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	if e.PlacementsJSON != "" {
		var rep watermark.Report
		if err := json.Unmarshal([]byte(e.PlacementsJSON), &rep); err == nil {
			out.Report = &rep
		}
	}
	return out
}

// APIVideoUpload: POST /api/v1/videos
func (h *Handler) APIVideoUpload(w http.ResponseWriter, r *http.Request) {
	if !h.hasRoomFor(r.ContentLength) {
		renderJSONError(w, http.StatusInsufficientStorage, "INSUFFICIENT_STORAGE", "not enough free disk space")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.Cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "missing 'file' field in form")
		return
	}
	defer file.Close()

	v, err := h.storeVideo(r.Context(), header, file)
	if err != nil {
		switch {
		case errors.Is(err, errUnsupportedMedia):
			renderJSONError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "unsupported file type")
		case errors.Is(err, errNotPlayable):
			renderJSONError(w, http.StatusUnprocessableEntity, "NOT_PLAYABLE", err.Error())
		default:
			slog.Error("api video upload", "error", err)
			renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to upload video")
		}
		return
	}
	renderJSON(w, http.StatusCreated, videoToAPI(v))
}

// APIVideoList: GET /api/v1/videos
func (h *Handler) APIVideoList(w http.ResponseWriter, r *http.Request) {
	videos, err := db.ListVideos(h.DB)
	if err != nil {
		slog.Error("api list videos", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list videos")
		return
	}

	page, perPage := paginate(r)
	start, end := pageBounds(len(videos), page, perPage)
	result := make([]apiVideo, 0, end-start)
	for i := start; i < end; i++ {
		result = append(result, videoToAPI(&videos[i].Video))
	}
	renderJSON(w, http.StatusOK, paginatedResult{
		Data:    result,
		Total:   len(videos),
		Page:    page,
		PerPage: perPage,
	})
}

func (h *Handler) apiLoadVideo(w http.ResponseWriter, r *http.Request) *model.Video {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "video not found")
		return nil
	}
	v, err := db.GetVideo(h.DB, id)
	if err != nil {
		slog.Error("api get video", "video", id, "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to get video")
		return nil
	}
	if v == nil {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "video not found")
		return nil
	}
	return v
}

// APIVideoGet: GET /api/v1/videos/{id}
func (h *Handler) APIVideoGet(w http.ResponseWriter, r *http.Request) {
	v := h.apiLoadVideo(w, r)
	if v == nil {
		return
	}
	exports, err := db.ListExportsByVideo(h.DB, v.ID)
	if err != nil {
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list exports")
		return
	}
	out := struct {
		apiVideo
		Exports []apiExport `json:"exports"`
	}{apiVideo: videoToAPI(v), Exports: make([]apiExport, len(exports))}
	for i := range exports {
		out.Exports[i] = h.exportToAPI(&exports[i])
	}
	renderJSON(w, http.StatusOK, out)
}

// APIVideoDelete: DELETE /api/v1/videos/{id}
func (h *Handler) APIVideoDelete(w http.ResponseWriter, r *http.Request) {
	v := h.apiLoadVideo(w, r)
	if v == nil {
		return
	}
	if latest, err := db.LatestExport(h.DB, v.ID); err == nil && latest != nil && !latest.Finished() {
		renderJSONError(w, http.StatusConflict, "EXPORT_RUNNING", "wait for the running export to finish")
		return
	}
	if err := h.removeVideo(v); err != nil {
		slog.Error("api delete video", "video", v.ID, "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to delete video")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// APIVideoPlan: GET /api/v1/videos/{id}/plan?seed=N&legacy=true
//
// Computes the placements an export would use, without exporting.
func (h *Handler) APIVideoPlan(w http.ResponseWriter, r *http.Request) {
	v := h.apiLoadVideo(w, r)
	if v == nil {
		return
	}
	if h.Cfg.WatermarkImage == "" {
		renderJSONError(w, http.StatusConflict, "NO_WATERMARK_IMAGE", "no watermark image configured")
		return
	}

	q := r.URL.Query()
	seed := newSeed()
	if s := q.Get("seed"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "seed must be an integer")
			return
		}
		seed = n
	}
	legacy, _ := strconv.ParseBool(q.Get("legacy"))

	maker := &watermark.Maker{
		Exporter:     h.Cfg.Exporter(""),
		Presets:      h.Cfg.Scales.Presets(),
		RequireAudio: h.Cfg.RequireAudio,
		Legacy:       legacy,
	}
	comp, err := maker.Plan(r.Context(), filepath.Join(h.Cfg.DataDir, v.OriginalPath), h.Cfg.WatermarkImage, rand.New(rand.NewSource(seed)))
	if err != nil {
		slog.Error("plan watermarks", "video", v.ID, "error", err)
		renderJSONError(w, http.StatusUnprocessableEntity, "PLAN_FAILED", err.Error())
		return
	}
	rep := watermark.NewReport(comp)
	rep.Seed = seed
	rep.Legacy = legacy
	renderJSON(w, http.StatusOK, rep)
}

// APIExportCreate: POST /api/v1/videos/{id}/exports
//
// Accepts a JSON body or a multipart form with an optional "image" file
// and "legacy", "seed", "callback_url" fields.
func (h *Handler) APIExportCreate(w http.ResponseWriter, r *http.Request) {
	v := h.apiLoadVideo(w, r)
	if v == nil {
		return
	}
	if !h.hasRoomFor(estimateExport(v)) {
		renderJSONError(w, http.StatusInsufficientStorage, "INSUFFICIENT_STORAGE", "not enough free disk space")
		return
	}

	var req exportRequest
	var image *multipart.FileHeader
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to parse multipart form")
			return
		}
		req.Legacy, _ = strconv.ParseBool(r.FormValue("legacy"))
		req.CallbackURL = r.FormValue("callback_url")
		if s := r.FormValue("seed"); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "seed must be an integer")
				return
			}
			req.Seed = &n
		}
		image = formImage(r)
	} else if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
			return
		}
	}

	e, err := h.enqueueExport(v, req, image)
	if err != nil {
		switch {
		case errors.Is(err, errExportBusy):
			renderJSONError(w, http.StatusConflict, "EXPORT_RUNNING", err.Error())
		case errors.Is(err, errQueueFailed):
			renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		case errors.Is(err, errUnsupportedMedia):
			renderJSONError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", err.Error())
		default:
			renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		}
		return
	}

	created, err := db.GetExport(h.DB, e.ID)
	if err != nil || created == nil {
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load export")
		return
	}
	w.Header().Set("Location", "/api/v1/exports/"+e.ID)
	renderJSON(w, http.StatusAccepted, h.exportToAPI(created))
}

// APIExportGet: GET /api/v1/exports/{id}
func (h *Handler) APIExportGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "export not found")
		return
	}
	e, err := db.GetExport(h.DB, id)
	if err != nil {
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to get export")
		return
	}
	if e == nil {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "export not found")
		return
	}
	renderJSON(w, http.StatusOK, h.exportToAPI(e))
}
