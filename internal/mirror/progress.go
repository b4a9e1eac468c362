package mirror

import "sync/atomic"

// Progress tracks bytes uploaded against the total of one mirror run
type Progress struct {
	total    int64
	uploaded atomic.Int64
}

// NewProgress creates a progress counter for total bytes
func NewProgress(total int64) *Progress {
	return &Progress{total: total}
}

// Record adds n uploaded bytes and returns the completed percentage. An
// empty tree is complete from the start.
func (p *Progress) Record(n int64) float64 {
	uploaded := p.uploaded.Add(n)
	if p.total == 0 {
		return 100
	}
	return float64(uploaded) / float64(p.total) * 100
}

// Uploaded returns the bytes recorded so far
func (p *Progress) Uploaded() int64 {
	return p.uploaded.Load()
}

// Total returns the byte total the run started with
func (p *Progress) Total() int64 {
	return p.total
}
