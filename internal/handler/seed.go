package handler

import (
	"math/rand"
	"sync"
	"time"
)

var (
	seedMu  sync.Mutex
	seedRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// newSeed picks the placement seed stored with an export so its plan can be
// reproduced later.
func newSeed() int64 {
	seedMu.Lock()
	defer seedMu.Unlock()
	return seedRng.Int63()
}
