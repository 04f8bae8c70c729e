package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/YannKr/wmmaker/internal/db"
	"github.com/YannKr/wmmaker/internal/model"
	"github.com/YannKr/wmmaker/internal/watermark"
)

var (
	errUnsupportedMedia = errors.New("unsupported media type")
	errNotPlayable      = errors.New("file has no usable video track")
)

// sniffType detects the MIME type from the first 512 bytes, falling back to
// the file extension when sniffing is inconclusive.
func sniffType(file multipart.File, filename string, allowed map[string]string) (mimeType, ext string, err error) {
	buf := make([]byte, 512)
	n, _ := file.Read(buf)
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", "", err
	}
	mimeType = http.DetectContentType(buf[:n])
	if ext, ok := allowed[mimeType]; ok {
		return mimeType, ext, nil
	}
	origExt := strings.ToLower(filepath.Ext(filename))
	for m, e := range allowed {
		if e == origExt {
			return m, e, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", errUnsupportedMedia, mimeType)
}

// storeVideo saves an uploaded source video under originals/, probes it and
// records it. Files that ffprobe cannot read as video are rejected.
func (h *Handler) storeVideo(ctx context.Context, header *multipart.FileHeader, file multipart.File) (*model.Video, error) {
	mimeType, ext, err := sniffType(file, header.Filename, watermark.VideoMimeToExt)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	dir := filepath.Join(h.Cfg.DataDir, "originals")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create originals dir: %w", err)
	}
	relPath := filepath.Join("originals", id+ext)
	srcPath := filepath.Join(h.Cfg.DataDir, relPath)

	dst, err := os.Create(srcPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	hasher := sha256.New()
	written, err := io.Copy(dst, io.TeeReader(file, hasher))
	dst.Close()
	if err != nil {
		os.Remove(srcPath)
		return nil, fmt.Errorf("write file: %w", err)
	}

	asset, err := watermark.OpenAsset(ctx, h.Cfg.Toolchain(), srcPath, watermark.AssetOptions{RequireAudio: h.Cfg.RequireAudio})
	if err != nil {
		os.Remove(srcPath)
		return nil, fmt.Errorf("%w: %v", errNotPlayable, err)
	}

	v := &model.Video{
		ID:           id,
		OriginalName: filepath.Base(header.Filename),
		OriginalPath: relPath,
		MimeType:     mimeType,
		FileSize:     written,
		SHA256:       hex.EncodeToString(hasher.Sum(nil)),
		Duration:     asset.Duration.Seconds(),
		Width:        int64(asset.Video.Width),
		Height:       int64(asset.Video.Height),
		Rotation:     asset.Video.Rotation,
		HasAudio:     asset.Audio != nil,
	}
	if err := db.CreateVideo(h.DB, v); err != nil {
		os.Remove(srcPath)
		return nil, fmt.Errorf("insert video: %w", err)
	}
	return v, nil
}

// storeImage saves a custom watermark image and returns its path relative
// to the data directory.
func (h *Handler) storeImage(exportID string, header *multipart.FileHeader, file multipart.File) (string, error) {
	_, ext, err := sniffType(file, header.Filename, watermark.ImageMimeToExt)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(h.Cfg.DataDir, "images")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create images dir: %w", err)
	}
	relPath := filepath.Join("images", exportID+ext)
	dst, err := os.Create(filepath.Join(h.Cfg.DataDir, relPath))
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	// The layer renderer must be able to decode it.
	if _, err := watermark.ImageSize(filepath.Join(h.Cfg.DataDir, relPath)); err != nil {
		os.Remove(filepath.Join(h.Cfg.DataDir, relPath))
		return "", fmt.Errorf("%w: %v", errUnsupportedMedia, err)
	}
	return relPath, nil
}

// exportRequest carries the options of a new export from either the HTML
// form or the JSON API.
type exportRequest struct {
	Legacy      bool   `json:"legacy"`
	Seed        *int64 `json:"seed"`
	CallbackURL string `json:"callback_url"`
}

var (
	errExportBusy  = errors.New("an export for this video is already queued")
	errQueueFailed = errors.New("could not queue export")
)

// enqueueExport creates a PENDING export. image may be nil.
func (h *Handler) enqueueExport(video *model.Video, req exportRequest, imageHeader *multipart.FileHeader) (*model.Export, error) {
	if req.CallbackURL != "" && !strings.HasPrefix(req.CallbackURL, "http://") && !strings.HasPrefix(req.CallbackURL, "https://") {
		return nil, fmt.Errorf("callback_url must be an http(s) URL")
	}

	e := &model.Export{
		ID:          uuid.New().String(),
		VideoID:     video.ID,
		Legacy:      req.Legacy,
		CallbackURL: req.CallbackURL,
	}
	if req.Seed != nil {
		e.Seed = *req.Seed
	} else {
		e.Seed = newSeed()
	}

	if imageHeader != nil {
		f, err := imageHeader.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		e.ImagePath, err = h.storeImage(e.ID, imageHeader, f)
		if err != nil {
			return nil, err
		}
	} else if h.Cfg.WatermarkImage == "" {
		return nil, fmt.Errorf("no watermark image configured; upload one")
	}

	exists, err := db.EnqueueExportIfIdle(h.DB, e)
	if err != nil || exists {
		if e.ImagePath != "" {
			os.Remove(filepath.Join(h.Cfg.DataDir, e.ImagePath))
		}
	}
	if err != nil {
		slog.Error("enqueue export", "video", video.ID, "error", err)
		return nil, errQueueFailed
	}
	if exists {
		return nil, errExportBusy
	}
	return e, nil
}

// removeVideo deletes a video, its exports and every file they own.
func (h *Handler) removeVideo(v *model.Video) error {
	exports, err := db.ListExportsByVideo(h.DB, v.ID)
	if err != nil {
		return err
	}
	for _, e := range exports {
		if e.ImagePath != "" {
			os.Remove(filepath.Join(h.Cfg.DataDir, e.ImagePath))
		}
	}
	os.RemoveAll(filepath.Join(h.Cfg.DataDir, "watermarked", v.ID))
	os.Remove(filepath.Join(h.Cfg.DataDir, v.OriginalPath))
	return db.DeleteVideo(h.DB, v.ID)
}
