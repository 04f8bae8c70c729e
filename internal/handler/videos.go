package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/YannKr/wmmaker/internal/db"
	"github.com/YannKr/wmmaker/internal/model"
	"github.com/YannKr/wmmaker/internal/watermark"
)

type indexPage struct {
	Videos         []model.VideoSummary
	MaxUploadBytes int64
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	videos, err := db.ListVideos(h.DB)
	if err != nil {
		slog.Error("list videos", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	h.render(w, r, "index.html", PageData{
		Title: "Videos",
		Flash: r.URL.Query().Get("flash"),
		Data:  indexPage{Videos: videos, MaxUploadBytes: h.Cfg.MaxUploadBytes},
	})
}

func (h *Handler) VideoUploadSubmit(w http.ResponseWriter, r *http.Request) {
	fail := func(status int, msg string) {
		videos, _ := db.ListVideos(h.DB)
		h.renderStatus(w, r, status, "index.html", PageData{
			Title: "Videos",
			Error: msg,
			Data:  indexPage{Videos: videos, MaxUploadBytes: h.Cfg.MaxUploadBytes},
		})
	}

	if !h.hasRoomFor(r.ContentLength) {
		fail(http.StatusInsufficientStorage, "Not enough free disk space for this upload.")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.Cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		fail(http.StatusBadRequest, "Upload failed: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		fail(http.StatusBadRequest, "No file selected.")
		return
	}
	defer file.Close()

	v, err := h.storeVideo(r.Context(), header, file)
	if err != nil {
		slog.Warn("video upload failed", "file", header.Filename, "error", err)
		if errors.Is(err, errUnsupportedMedia) || errors.Is(err, errNotPlayable) {
			fail(http.StatusUnsupportedMediaType, "Upload failed: "+err.Error())
			return
		}
		fail(http.StatusInternalServerError, "Upload failed.")
		return
	}
	slog.Info("video uploaded", "video", v.ID, "name", v.OriginalName, "duration", v.Duration)
	http.Redirect(w, r, "/videos/"+v.ID, http.StatusSeeOther)
}

type videoPage struct {
	Video   *model.Video
	Latest  *model.Export
	Exports []model.Export
	Report  *watermark.Report
}

func (h *Handler) loadVideo(w http.ResponseWriter, r *http.Request) *model.Video {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		http.NotFound(w, r)
		return nil
	}
	v, err := db.GetVideo(h.DB, id)
	if err != nil {
		slog.Error("get video", "video", id, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return nil
	}
	if v == nil {
		http.NotFound(w, r)
		return nil
	}
	return v
}

func (h *Handler) VideoDetail(w http.ResponseWriter, r *http.Request) {
	v := h.loadVideo(w, r)
	if v == nil {
		return
	}
	exports, err := db.ListExportsByVideo(h.DB, v.ID)
	if err != nil {
		slog.Error("list exports", "video", v.ID, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	page := videoPage{Video: v, Exports: exports}
	if len(exports) > 0 {
		page.Latest = &exports[0]
		if page.Latest.PlacementsJSON != "" {
			var rep watermark.Report
			if err := json.Unmarshal([]byte(page.Latest.PlacementsJSON), &rep); err == nil {
				page.Report = &rep
			}
		}
	}
	h.render(w, r, "video.html", PageData{
		Title: v.OriginalName,
		Flash: r.URL.Query().Get("flash"),
		Error: r.URL.Query().Get("error"),
		Data:  page,
	})
}

// VideoExportSubmit handles the "Add watermark" button.
func (h *Handler) VideoExportSubmit(w http.ResponseWriter, r *http.Request) {
	v := h.loadVideo(w, r)
	if v == nil {
		return
	}
	back := "/videos/" + v.ID

	if err := r.ParseMultipartForm(8 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Redirect(w, r, back+"?error="+urlEscape("invalid form"), http.StatusSeeOther)
		return
	}
	if !h.hasRoomFor(estimateExport(v)) {
		http.Redirect(w, r, back+"?error="+urlEscape("not enough free disk space to export"), http.StatusSeeOther)
		return
	}

	req := exportRequest{Legacy: r.FormValue("legacy") == "on"}
	if s := r.FormValue("seed"); s != "" {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			http.Redirect(w, r, back+"?error="+urlEscape("seed must be an integer"), http.StatusSeeOther)
			return
		}
		req.Seed = &seed
	}

	e, err := h.enqueueExport(v, req, formImage(r))
	if errors.Is(err, errQueueFailed) {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if err != nil {
		http.Redirect(w, r, back+"?error="+urlEscape(err.Error()), http.StatusSeeOther)
		return
	}
	slog.Info("export queued", "export", e.ID, "video", v.ID, "legacy", e.Legacy)
	http.Redirect(w, r, back+"?flash="+urlEscape("Watermarking started"), http.StatusSeeOther)
}

func (h *Handler) VideoDelete(w http.ResponseWriter, r *http.Request) {
	v := h.loadVideo(w, r)
	if v == nil {
		return
	}
	if latest, err := db.LatestExport(h.DB, v.ID); err == nil && latest != nil && !latest.Finished() {
		http.Redirect(w, r, "/videos/"+v.ID+"?error="+urlEscape("wait for the running export to finish"), http.StatusSeeOther)
		return
	}
	if err := h.removeVideo(v); err != nil {
		slog.Error("delete video", "video", v.ID, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/?flash="+urlEscape("Video deleted"), http.StatusSeeOther)
}

// VideoOriginal streams the source file; ServeFile handles range requests
// for the player.
func (h *Handler) VideoOriginal(w http.ResponseWriter, r *http.Request) {
	v := h.loadVideo(w, r)
	if v == nil {
		return
	}
	w.Header().Set("Content-Type", v.MimeType)
	http.ServeFile(w, r, filepath.Join(h.Cfg.DataDir, v.OriginalPath))
}

// ExportFile streams a finished export. ?download=1 asks the browser to save it.
func (h *Handler) ExportFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		http.NotFound(w, r)
		return
	}
	e, err := db.GetExport(h.DB, id)
	if err != nil {
		slog.Error("get export", "export", id, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if e == nil || e.State != model.ExportCompleted || e.OutputPath == "" {
		http.NotFound(w, r)
		return
	}
	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(e.OutputPath)+`"`)
	}
	http.ServeFile(w, r, filepath.Join(h.Cfg.DataDir, e.OutputPath))
}
