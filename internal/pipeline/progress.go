package pipeline

import (
	"sync"

	"github.com/pinpoint-video/worker/internal/models"
)

// progressTracker serializes progress events and enforces the monotone
// non-decreasing invariant regardless of which worker emits.
type progressTracker struct {
	mu   sync.Mutex
	sink ProgressSink
	last float64
}

func newProgressTracker(sink ProgressSink) *progressTracker {
	return &progressTracker{sink: sink}
}

func (t *progressTracker) emit(phase, step string, progress float64, details map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if progress < t.last {
		progress = t.last
	}
	if progress > 1 {
		progress = 1
	}
	t.last = progress

	if t.sink == nil {
		return
	}
	t.sink.OnProgress(models.ProgressEvent{
		Phase:    phase,
		Step:     step,
		Progress: progress,
		Details:  details,
	})
}
