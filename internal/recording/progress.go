package recording

import "sync"

// maxStreamingPercent caps byte-ratio progress until finalize succeeds.
const maxStreamingPercent = 95

// ProgressTracker derives upload progress from captured and uploaded bytes.
type ProgressTracker struct {
	mu       sync.Mutex
	captured int64
	uploaded int64
	complete bool
}

// AddCaptured records n newly captured bytes.
func (p *ProgressTracker) AddCaptured(n int64) {
	p.mu.Lock()
	p.captured += n
	p.mu.Unlock()
}

// AddUploaded records n acknowledged bytes. Uploaded never exceeds captured.
func (p *ProgressTracker) AddUploaded(n int64) {
	p.mu.Lock()
	p.uploaded += n
	if p.uploaded > p.captured {
		p.uploaded = p.captured
	}
	p.mu.Unlock()
}

// MarkComplete records a successful finalize.
func (p *ProgressTracker) MarkComplete() {
	p.mu.Lock()
	p.complete = true
	p.mu.Unlock()
}

// Percent is 100 after MarkComplete and otherwise
// min(95, 100*uploaded/captured), or 0 before anything was captured.
func (p *ProgressTracker) Percent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.complete {
		return 100
	}
	if p.captured == 0 {
		return 0
	}
	pct := int(p.uploaded * 100 / p.captured)
	if pct > maxStreamingPercent {
		pct = maxStreamingPercent
	}
	return pct
}

// Bytes returns the captured and uploaded totals.
func (p *ProgressTracker) Bytes() (captured, uploaded int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captured, p.uploaded
}
