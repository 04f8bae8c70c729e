package handler

import (
	"bytes"
	"database/sql"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/csrf"

	"github.com/YannKr/wmmaker/internal/config"
	"github.com/YannKr/wmmaker/internal/diskstat"
	"github.com/YannKr/wmmaker/internal/sse"
)

type Handler struct {
	DB        *sql.DB
	Cfg       *config.Config
	SSE       *sse.Hub
	DiskCache *diskstat.Cache
	templates map[string]*template.Template
}

func New(database *sql.DB, cfg *config.Config, templateFS fs.FS, sseHub *sse.Hub) *Handler {
	funcMap := template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("2006-01-02 15:04 UTC")
		},
		"ago": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return humanize.Time(t)
		},
		"formatBytes": func(b int64) string {
			if b < 0 {
				b = 0
			}
			return humanize.Bytes(uint64(b))
		},
		"formatDuration": func(secs float64) string {
			d := time.Duration(secs * float64(time.Second))
			h := int(d.Hours())
			m := int(d.Minutes()) % 60
			sec := int(d.Seconds()) % 60
			if h > 0 {
				return fmt.Sprintf("%dh%02dm%02ds", h, m, sec)
			}
			return fmt.Sprintf("%dm%02ds", m, sec)
		},
		"shortenID": func(id string) string {
			if len(id) > 8 {
				return id[:8]
			}
			return id
		},
		"stateBadge": func(state string) template.HTML {
			class := "badge"
			switch state {
			case "RUNNING":
				class += " badge-yellow"
			case "COMPLETED":
				class += " badge-green"
			case "FAILED":
				class += " badge-red"
			case "PENDING":
				class += " badge-blue"
			default:
				class += " badge-gray"
			}
			if state == "" {
				state = "NEW"
			}
			return template.HTML(fmt.Sprintf(`<span class="%s">%s</span>`, class, template.HTMLEscapeString(state)))
		},
	}

	// Parse layout template as the base
	layoutTmpl := template.Must(
		template.New("layout.html").Funcs(funcMap).ParseFS(templateFS, "layout.html"),
	)

	// Build per-page template sets: clone layout + parse page
	templates := make(map[string]*template.Template)
	entries, err := fs.ReadDir(templateFS, ".")
	if err != nil {
		panic("read template dir: " + err.Error())
	}
	for _, e := range entries {
		name := e.Name()
		if name == "layout.html" || e.IsDir() {
			continue
		}
		t := template.Must(template.Must(layoutTmpl.Clone()).ParseFS(templateFS, name))
		templates[name] = t
	}

	return &Handler{
		DB:        database,
		Cfg:       cfg,
		SSE:       sseHub,
		templates: templates,
	}
}

type PageData struct {
	Title       string
	Flash       string
	Error       string
	DiskWarning diskstat.Level
	CSRFField   template.HTML
	Data        any
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data PageData) {
	h.renderStatus(w, r, http.StatusOK, name, data)
}

func (h *Handler) renderStatus(w http.ResponseWriter, r *http.Request, status int, name string, data PageData) {
	t, ok := h.templates[name]
	if !ok {
		slog.Error("template not found", "name", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	data.CSRFField = csrf.TemplateField(r)
	if h.DiskCache != nil {
		data.DiskWarning = h.DiskCache.Get().Level(diskstat.DefaultThresholds)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		slog.Error("render template", "name", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// hasRoomFor reports whether need more bytes fit on the data volume.
func (h *Handler) hasRoomFor(need int64) bool {
	if h.DiskCache == nil {
		return true
	}
	return h.DiskCache.Get().Fits(need, diskstat.DefaultThresholds.Blocked)
}
