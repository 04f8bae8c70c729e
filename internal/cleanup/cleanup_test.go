package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YannKr/wmmaker/internal/db"
	"github.com/YannKr/wmmaker/internal/model"
)

func TestRunOnceRemovesExpiredExports(t *testing.T) {
	dataDir := t.TempDir()
	database, err := db.Open(dataDir)
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.Migrate(database, os.DirFS("../..")))

	require.NoError(t, db.CreateVideo(database, &model.Video{
		ID: "v1", OriginalName: "a.mp4", OriginalPath: "originals/v1.mp4", MimeType: "video/mp4",
		Duration: 5, Width: 1280, Height: 720,
	}))
	require.NoError(t, db.EnqueueExport(database, &model.Export{ID: "old", VideoID: "v1"}))
	require.NoError(t, db.EnqueueExport(database, &model.Export{ID: "queued", VideoID: "v1"}))

	rel := filepath.Join("watermarked", "v1", "WaterMarkVideo20261019140307.mp4")
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "watermarked", "v1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, rel), []byte("x"), 0644))
	require.NoError(t, db.CompleteExport(database, "old", rel, "sha", 1, "[]"))

	c := &Cleaner{
		DB:        database,
		DataDir:   dataDir,
		Retention: time.Hour,
		Now:       func() time.Time { return time.Now().Add(2 * time.Hour) },
	}
	c.RunOnce()

	gone, err := db.GetExport(database, "old")
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.NoFileExists(t, filepath.Join(dataDir, rel))

	kept, err := db.GetExport(database, "queued")
	require.NoError(t, err)
	assert.NotNil(t, kept, "unfinished exports are never expired")
}
