package model

import "time"

const (
	ExportPending   = "PENDING"
	ExportRunning   = "RUNNING"
	ExportCompleted = "COMPLETED"
	ExportFailed    = "FAILED"
)

type Video struct {
	ID           string
	OriginalName string
	OriginalPath string
	MimeType     string
	FileSize     int64
	SHA256       string
	Duration     float64
	Width        int64
	Height       int64
	Rotation     int
	HasAudio     bool
	CreatedAt    time.Time
}

// Export is one watermarking run over a video. OutputPath is relative to
// the data directory.
type Export struct {
	ID             string
	VideoID        string
	State          string
	Progress       int
	ErrorMessage   string
	ImagePath      string
	Legacy         bool
	Seed           int64
	CallbackURL    string
	OutputPath     string
	OutputSize     int64
	OutputSHA256   string
	PlacementsJSON string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

func (e *Export) Finished() bool {
	return e.State == ExportCompleted || e.State == ExportFailed
}

type VideoSummary struct {
	Video
	ExportCount  int
	LatestState  string
	LatestExport string
}

type WebhookDelivery struct {
	ID                  string
	ExportID            string
	URL                 string
	EventType           string
	EventID             string
	PayloadJSON         string
	AttemptNumber       int
	ResponseStatus      *int
	ResponseBodyPreview string
	ErrorMessage        string
	State               string
	NextRetryAt         *time.Time
	DeliveredAt         *time.Time
	CreatedAt           time.Time
}
