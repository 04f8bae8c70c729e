package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/YannKr/wmmaker/internal/model"
)

const exportColumns = `id, video_id, state, progress, COALESCE(error_message, ''),
	COALESCE(image_path, ''), legacy, seed, COALESCE(callback_url, ''),
	COALESCE(output_path, ''), COALESCE(output_size, 0), COALESCE(output_sha256, ''),
	COALESCE(placements_json, ''), created_at, started_at, completed_at`

func scanExport(row rowScanner) (*model.Export, error) {
	e := &model.Export{}
	var legacy int
	var createdAt SQLiteTime
	var startedAt, completedAt sql.NullString
	err := row.Scan(&e.ID, &e.VideoID, &e.State, &e.Progress, &e.ErrorMessage,
		&e.ImagePath, &legacy, &e.Seed, &e.CallbackURL,
		&e.OutputPath, &e.OutputSize, &e.OutputSHA256,
		&e.PlacementsJSON, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	e.Legacy = legacy != 0
	e.CreatedAt = createdAt.Time
	e.StartedAt = nullTime(startedAt)
	e.CompletedAt = nullTime(completedAt)
	return e, nil
}

func EnqueueExport(database *sql.DB, e *model.Export) error {
	_, err := database.Exec(
		`INSERT INTO exports (id, video_id, state, image_path, legacy, seed, callback_url)
		 VALUES (?, ?, 'PENDING', NULLIF(?, ''), ?, ?, NULLIF(?, ''))`,
		e.ID, e.VideoID, e.ImagePath, boolToInt(e.Legacy), e.Seed, e.CallbackURL,
	)
	return err
}

// EnqueueExportIfIdle creates an export for the video only if no PENDING or
// RUNNING export already exists for it. Returns true if one already existed.
func EnqueueExportIfIdle(database *sql.DB, e *model.Export) (alreadyExists bool, err error) {
	res, err := database.Exec(
		`INSERT INTO exports (id, video_id, state, image_path, legacy, seed, callback_url)
		 SELECT ?, ?, 'PENDING', NULLIF(?, ''), ?, ?, NULLIF(?, '')
		 WHERE NOT EXISTS (
		   SELECT 1 FROM exports WHERE video_id = ? AND state IN ('PENDING', 'RUNNING')
		 )`,
		e.ID, e.VideoID, e.ImagePath, boolToInt(e.Legacy), e.Seed, e.CallbackURL, e.VideoID,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 0, nil
}

// ClaimNextExport atomically moves the oldest PENDING export to RUNNING and
// returns it, or nil when the queue is empty.
func ClaimNextExport(database *sql.DB) (*model.Export, error) {
	e, err := scanExport(database.QueryRow(`
		UPDATE exports
		SET state = 'RUNNING', started_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = (
			SELECT id FROM exports WHERE state = 'PENDING'
			ORDER BY created_at ASC LIMIT 1
		)
		RETURNING ` + exportColumns))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func UpdateExportProgress(database *sql.DB, id string, progress int) error {
	_, err := database.Exec(`UPDATE exports SET progress = ? WHERE id = ?`, progress, id)
	return err
}

// CompleteExport records a finished export. It fails with sql.ErrNoRows when
// the export no longer exists.
func CompleteExport(database *sql.DB, id, outputPath, sha string, size int64, placementsJSON string) error {
	res, err := database.Exec(
		`UPDATE exports SET state = 'COMPLETED', progress = 100, output_path = ?, output_sha256 = ?,
		        output_size = ?, placements_json = ?, error_message = NULL,
		        completed_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`, outputPath, sha, size, placementsJSON, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("export %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// RequeueExport returns a RUNNING export to PENDING with its progress reset.
func RequeueExport(database *sql.DB, id string) error {
	_, err := database.Exec(`UPDATE exports SET state = 'PENDING', progress = 0, started_at = NULL
		WHERE id = ? AND state = 'RUNNING'`, id)
	return err
}

func FailExport(database *sql.DB, id, errorMsg string) error {
	_, err := database.Exec(
		`UPDATE exports SET state = 'FAILED', error_message = ?, completed_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`, errorMsg, id,
	)
	return err
}

func GetExport(database *sql.DB, id string) (*model.Export, error) {
	e, err := scanExport(database.QueryRow(`SELECT `+exportColumns+` FROM exports WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// LatestExport returns the most recent export of a video, or nil.
func LatestExport(database *sql.DB, videoID string) (*model.Export, error) {
	e, err := scanExport(database.QueryRow(`
		SELECT `+exportColumns+` FROM exports WHERE video_id = ?
		ORDER BY created_at DESC LIMIT 1`, videoID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func ListExportsByVideo(database *sql.DB, videoID string) ([]model.Export, error) {
	return listExports(database, `SELECT `+exportColumns+` FROM exports WHERE video_id = ?
		ORDER BY created_at DESC`, videoID)
}

// ListExpiredExports returns finished exports completed before cutoff.
func ListExpiredExports(database *sql.DB, cutoff time.Time) ([]model.Export, error) {
	return listExports(database, `SELECT `+exportColumns+` FROM exports
		WHERE state IN ('COMPLETED', 'FAILED') AND completed_at < ?
		ORDER BY completed_at ASC`, formatTime(cutoff))
}

func listExports(database *sql.DB, query string, args ...any) ([]model.Export, error) {
	rows, err := database.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exports []model.Export
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		exports = append(exports, *e)
	}
	return exports, rows.Err()
}

func DeleteExport(database *sql.DB, id string) error {
	_, err := database.Exec(`DELETE FROM exports WHERE id = ?`, id)
	return err
}

// ResetStaleExports returns exports left RUNNING by a previous process to the
// queue.
func ResetStaleExports(database *sql.DB) (int64, error) {
	res, err := database.Exec(`UPDATE exports SET state = 'PENDING', progress = 0, started_at = NULL
		WHERE state = 'RUNNING'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
