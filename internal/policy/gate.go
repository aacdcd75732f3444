package policy

import (
	"github.com/technosupport/ts-eventgate/internal/detect"
)

// ClassThresholds holds per-class minimum confidences with a fallback.
type ClassThresholds struct {
	perClass map[int]float64
	fallback float64
}

func NewClassThresholds(perClass map[int]float64, fallback float64) ClassThresholds {
	cp := make(map[int]float64, len(perClass))
	for k, v := range perClass {
		cp[k] = v
	}
	return ClassThresholds{perClass: cp, fallback: fallback}
}

// For returns the threshold for classID.
func (t ClassThresholds) For(classID int) float64 {
	if v, ok := t.perClass[classID]; ok {
		return v
	}
	return t.fallback
}

// Decision is the gate verdict for one image.
type Decision struct {
	Matched  bool
	Labels   []string
	Counting []detect.Detection
}

// Gate decides whether detections satisfy a camera policy.
type Gate struct {
	thresholds ClassThresholds
}

func NewGate(thresholds ClassThresholds) *Gate {
	return &Gate{thresholds: thresholds}
}

// Accepts counts a detection iff its class is desired and its confidence
// meets the class threshold. Labels are unique, in first-seen order.
func (g *Gate) Accepts(detections []detect.Detection, p CameraPolicy) Decision {
	var d Decision
	seen := make(map[int]struct{})
	for _, det := range detections {
		if !p.Wants(det.ClassID) || det.Confidence < g.thresholds.For(det.ClassID) {
			continue
		}
		d.Counting = append(d.Counting, det)
		if _, ok := seen[det.ClassID]; !ok {
			seen[det.ClassID] = struct{}{}
			d.Labels = append(d.Labels, Label(det.ClassID))
		}
	}
	d.Matched = len(d.Counting) > 0
	return d
}
