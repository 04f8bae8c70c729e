package db

import (
	"database/sql"

	"github.com/YannKr/wmmaker/internal/model"
)

const videoColumns = `id, original_name, original_path, mime_type, file_size, sha256,
	duration, width, height, rotation, has_audio, created_at`

func CreateVideo(database *sql.DB, v *model.Video) error {
	_, err := database.Exec(
		`INSERT INTO videos (id, original_name, original_path, mime_type, file_size, sha256,
		                     duration, width, height, rotation, has_audio)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.OriginalName, v.OriginalPath, v.MimeType, v.FileSize, v.SHA256,
		v.Duration, v.Width, v.Height, v.Rotation, boolToInt(v.HasAudio),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner, v *model.Video) error {
	var createdAt SQLiteTime
	var hasAudio int
	if err := row.Scan(&v.ID, &v.OriginalName, &v.OriginalPath, &v.MimeType, &v.FileSize, &v.SHA256,
		&v.Duration, &v.Width, &v.Height, &v.Rotation, &hasAudio, &createdAt); err != nil {
		return err
	}
	v.HasAudio = hasAudio != 0
	v.CreatedAt = createdAt.Time
	return nil
}

func GetVideo(database *sql.DB, id string) (*model.Video, error) {
	v := &model.Video{}
	err := scanVideo(database.QueryRow(`SELECT `+videoColumns+` FROM videos WHERE id = ?`, id), v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListVideos returns all videos, newest first, with the state of their most
// recent export.
func ListVideos(database *sql.DB) ([]model.VideoSummary, error) {
	rows, err := database.Query(`
		SELECT v.id, v.original_name, v.original_path, v.mime_type, v.file_size, v.sha256,
		       v.duration, v.width, v.height, v.rotation, v.has_audio, v.created_at,
		       (SELECT COUNT(*) FROM exports e WHERE e.video_id = v.id),
		       COALESCE((SELECT e.state FROM exports e WHERE e.video_id = v.id
		                 ORDER BY e.created_at DESC LIMIT 1), ''),
		       COALESCE((SELECT e.id FROM exports e WHERE e.video_id = v.id
		                 ORDER BY e.created_at DESC LIMIT 1), '')
		FROM videos v
		ORDER BY v.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []model.VideoSummary
	for rows.Next() {
		var s model.VideoSummary
		var createdAt SQLiteTime
		var hasAudio int
		if err := rows.Scan(&s.ID, &s.OriginalName, &s.OriginalPath, &s.MimeType, &s.FileSize, &s.SHA256,
			&s.Duration, &s.Width, &s.Height, &s.Rotation, &hasAudio, &createdAt,
			&s.ExportCount, &s.LatestState, &s.LatestExport); err != nil {
			return nil, err
		}
		s.HasAudio = hasAudio != 0
		s.CreatedAt = createdAt.Time
		videos = append(videos, s)
	}
	return videos, rows.Err()
}

func DeleteVideo(database *sql.DB, id string) error {
	_, err := database.Exec(`DELETE FROM videos WHERE id = ?`, id)
	return err
}

func TotalVideoBytes(database *sql.DB) (int64, error) {
	var n int64
	err := database.QueryRow(`SELECT COALESCE(SUM(file_size), 0) FROM videos`).Scan(&n)
	return n, err
}
