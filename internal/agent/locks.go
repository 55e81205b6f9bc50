package agent

import (
	"hash/fnv"
	"sync"

	"github.com/p-blackswan/checkin-agent/internal/models"
)

const lockStripes = 256

// stripedLock serialises work per scope with a fixed number of mutexes.
// Unrelated scopes may share a stripe; that only costs parallelism.
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLock) lock(scope models.Scope) func() {
	h := fnv.New32a()
	h.Write([]byte(scope.Key()))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
