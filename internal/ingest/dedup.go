package ingest

import (
	"github.com/technosupport/ts-eventgate/internal/imaging"
)

// DefaultSimilarity is the correlation above which two images count as the same.
const DefaultSimilarity = 0.98

// Deduplicator remembers the histograms accepted within one batch. It is not
// safe for concurrent use; each batch gets its own.
type Deduplicator struct {
	histogram imaging.HistogramFunc
	threshold float64
	accepted  []imaging.Histogram
}

func NewDeduplicator(h imaging.HistogramFunc, threshold float64) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultSimilarity
	}
	return &Deduplicator{histogram: h, threshold: threshold}
}

// Check reports whether data duplicates an image already accepted in this
// batch. Undecodable data is never a duplicate; the decode error is returned
// so the caller can log it. Non-duplicates are remembered.
func (d *Deduplicator) Check(data []byte) (bool, error) {
	h, err := d.histogram(data)
	if err != nil {
		return false, err
	}
	for _, prev := range d.accepted {
		if imaging.Correlation(h, prev) > d.threshold {
			return true, nil
		}
	}
	d.accepted = append(d.accepted, h)
	return false, nil
}

// Len is the number of distinct images accepted so far.
func (d *Deduplicator) Len() int {
	return len(d.accepted)
}
