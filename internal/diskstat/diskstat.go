package diskstat

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Level grades how close the data volume is to full.
type Level int

const (
	LevelOK Level = iota
	LevelLow
	LevelCritical
	LevelBlocked
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelCritical:
		return "critical"
	case LevelBlocked:
		return "blocked"
	default:
		return "ok"
	}
}

// Thresholds are free-space percentages at which each Level starts.
type Thresholds struct {
	Low      float64
	Critical float64
	Blocked  float64
}

var DefaultThresholds = Thresholds{Low: 20, Critical: 10, Blocked: 5}

// Stats is a point-in-time snapshot of disk usage under the data directory.
type Stats struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AppBytes       uint64
	ExportsBytes   uint64
	OriginalsBytes uint64
	ImagesBytes    uint64
	CapturedAt     time.Time
}

func (s Stats) PctFree() float64 {
	if s.TotalBytes == 0 {
		return 100
	}
	return float64(s.FreeBytes) / float64(s.TotalBytes) * 100
}

func (s Stats) Level(th Thresholds) Level {
	pct := s.PctFree()
	switch {
	case pct <= th.Blocked:
		return LevelBlocked
	case pct <= th.Critical:
		return LevelCritical
	case pct <= th.Low:
		return LevelLow
	default:
		return LevelOK
	}
}

// ExportEstimate returns the estimated bytes an export of a source file of
// sourceBytes needs. A re-encode at the highest preset lands near the source
// size.
func ExportEstimate(sourceBytes int64, factor float64) int64 {
	if factor <= 0 {
		factor = 1.1
	}
	return int64(float64(sourceBytes) * factor)
}

// Fits reports whether need bytes can be written while keeping blockPct
// percent of the disk free.
func (s Stats) Fits(need int64, blockPct float64) bool {
	if s.TotalBytes == 0 {
		return true
	}
	reserve := uint64(float64(s.TotalBytes) * blockPct / 100)
	if need < 0 {
		need = 0
	}
	return s.FreeBytes >= reserve+uint64(need)
}

// Cache is a goroutine-safe cached disk stats value, refreshed periodically.
type Cache struct {
	mu      sync.RWMutex
	stats   Stats
	dataDir string
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

// New creates a Cache. Call Start to begin polling.
func New(dataDir string, ttl time.Duration) *Cache {
	c := &Cache{
		dataDir: dataDir,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	return c
}

// Start begins background polling.
func (c *Cache) Start() {
	c.refresh()
	go func() {
		t := time.NewTicker(c.ttl)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-t.C:
				c.refresh()
			}
		}
	}()
}

// Stop halts background polling.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Get returns the latest cached stats.
func (c *Cache) Get() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Refresh forces an immediate update.
func (c *Cache) Refresh() {
	c.refresh()
}

func (c *Cache) refresh() {
	total, free, err := statFS(c.dataDir)
	if err != nil {
		// Not fatal; leave previous values in place
		return
	}
	app, exports, originals, images := walkDirSizes(c.dataDir)
	s := Stats{
		TotalBytes:     total,
		FreeBytes:      free,
		AppBytes:       app,
		ExportsBytes:   exports,
		OriginalsBytes: originals,
		ImagesBytes:    images,
		CapturedAt:     time.Now(),
	}
	c.mu.Lock()
	c.stats = s
	c.mu.Unlock()
}

func statFS(path string) (total, free uint64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	bsize := uint64(stat.Bsize)
	return bsize * stat.Blocks, bsize * stat.Bfree, nil
}

func walkDirSizes(dataDir string) (total, exports, originals, images uint64) {
	filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size := uint64(info.Size())
		total += size
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return nil
		}
		top, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		switch top {
		case "watermarked":
			exports += size
		case "originals":
			originals += size
		case "images":
			images += size
		}
		return nil
	})
	return
}
