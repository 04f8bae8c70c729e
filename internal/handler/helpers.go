package handler

import (
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/YannKr/wmmaker/internal/diskstat"
	"github.com/YannKr/wmmaker/internal/model"
)

func urlEscape(s string) string {
	return url.QueryEscape(s)
}

// formImage returns the optional "image" upload of a multipart form.
func formImage(r *http.Request) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	files := r.MultipartForm.File["image"]
	if len(files) == 0 || files[0].Size == 0 {
		return nil
	}
	return files[0]
}

func estimateExport(v *model.Video) int64 {
	return diskstat.ExportEstimate(v.FileSize, 0)
}
