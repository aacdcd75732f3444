package router

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-eventgate/internal/detect"
	"github.com/technosupport/ts-eventgate/internal/events"
	"github.com/technosupport/ts-eventgate/internal/imaging"
	"github.com/technosupport/ts-eventgate/internal/logging"
	"github.com/technosupport/ts-eventgate/internal/metrics"
	"github.com/technosupport/ts-eventgate/internal/platform/paths"
	"github.com/technosupport/ts-eventgate/internal/policy"
)

var ErrRoutingIO = errors.New("routing io failure")

type OutcomeKind string

const (
	Accepted  OutcomeKind = "accepted"
	Rejected  OutcomeKind = "rejected"
	Malformed OutcomeKind = "malformed"
	// Deferred leaves the file in the inbox for the next pass.
	Deferred OutcomeKind = "deferred"
)

// Outcome is the result of routing one inbox file.
type Outcome struct {
	Kind   OutcomeKind
	Event  events.Event
	Policy policy.CameraPolicy
	Labels []string

	// OutputPath is the annotated copy for accepted events, otherwise the
	// file's new location.
	OutputPath   string
	OriginalPath string
	Err          error
}

// Router moves inbox files into filtered or rejected storage.
type Router struct {
	layout    paths.Layout
	registry  *policy.Registry
	gate      *policy.Gate
	detector  detect.Detector
	annotator imaging.Annotator
	floor     float64
	logger    zerolog.Logger

	// claimed holds destination paths chosen by in-flight routes but not
	// yet written. Cross-process exclusion comes from the inbox lock.
	claimMu sync.Mutex
	claimed map[string]struct{}
}

func New(layout paths.Layout, registry *policy.Registry, gate *policy.Gate, detector detect.Detector, annotator imaging.Annotator, floor float64) *Router {
	return &Router{
		layout:    layout,
		registry:  registry,
		gate:      gate,
		detector:  detector,
		annotator: annotator,
		floor:     floor,
		logger:    logging.Component("router"),
		claimed:   make(map[string]struct{}),
	}
}

// Route classifies and relocates one file. Moving the original out of the
// inbox is always the last step, so an interrupted Route can be repeated.
func (r *Router) Route(ctx context.Context, path string) Outcome {
	out := r.route(ctx, path)
	metrics.RoutedTotal.WithLabelValues(string(out.Kind)).Inc()
	return out
}

func (r *Router) route(ctx context.Context, path string) Outcome {
	l := r.logger.With().Str("file", filepath.Base(path)).Logger()

	evt, err := events.ParseFileName(path)
	if err != nil {
		raw := events.Event{FileName: filepath.Base(path), SourcePath: path}
		dst, merr := r.moveTo(path, r.layout.Rejected, raw.FileName)
		if merr != nil {
			l.Error().Err(merr).Msg("Malformed file could not be moved")
			return Outcome{Kind: Deferred, Event: raw, Err: merr}
		}
		l.Warn().Err(err).Str("dest", dst).Msg("Malformed file name, moved to rejected")
		return Outcome{Kind: Malformed, Event: raw, OutputPath: dst, OriginalPath: dst, Err: err}
	}

	pol := r.registry.Resolve(evt.CameraID)
	base := Outcome{Event: evt, Policy: pol}

	dets, err := r.detector.Detect(ctx, path, r.floor)
	if err != nil {
		l.Error().Err(err).Str("camera", evt.CameraID).Msg("Detection failed, file left in inbox")
		base.Kind, base.Err = Deferred, err
		return base
	}

	decision := r.gate.Accepts(dets, pol)
	if !decision.Matched {
		dst, err := r.moveTo(path, r.layout.Rejected, evt.FileName)
		if err != nil {
			l.Error().Err(err).Msg("Rejected file could not be moved")
			base.Kind, base.Err = Deferred, err
			return base
		}
		l.Info().Str("camera", evt.CameraID).Int("detections", len(dets)).Msg("No desired objects, rejected")
		base.Kind, base.OutputPath, base.OriginalPath = Rejected, dst, dst
		return base
	}

	annotated, original, err := r.accept(path, evt.FileName, decision.Counting)
	if err != nil {
		l.Error().Err(err).Msg("Accepted file could not be stored, left in inbox")
		base.Kind, base.Err = Deferred, err
		return base
	}

	l.Info().Str("camera", evt.CameraID).Strs("labels", decision.Labels).Msg("Objects detected, accepted")
	base.Kind = Accepted
	base.Labels = decision.Labels
	base.OutputPath = annotated
	base.OriginalPath = original
	return base
}

// accept writes the annotated copy, then moves the original. A stale
// annotated file from an interrupted run is replaced.
func (r *Router) accept(src, name string, counting []detect.Detection) (annotated, original string, err error) {
	original, annotated, err = r.claimAccepted(name)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrRoutingIO, err)
	}
	defer r.release(original, annotated)

	tmp := filepath.Join(r.layout.Filtered, paths.TempPrefix+filepath.Base(annotated))

	boxes := make([]image.Rectangle, 0, len(counting))
	for _, d := range counting {
		boxes = append(boxes, d.Box)
	}

	if err := r.annotator.Annotate(src, tmp, boxes); err != nil {
		os.Remove(tmp)
		return "", "", fmt.Errorf("annotate: %w", err)
	}
	if err := os.Rename(tmp, annotated); err != nil {
		os.Remove(tmp)
		return "", "", fmt.Errorf("%w: %v", ErrRoutingIO, err)
	}
	if err := os.Rename(src, original); err != nil {
		os.Remove(annotated)
		return "", "", fmt.Errorf("%w: %v", ErrRoutingIO, err)
	}
	return annotated, original, nil
}

func (r *Router) moveTo(src, dir, name string) (string, error) {
	dst, err := r.claim(dir, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRoutingIO, err)
	}
	defer r.release(dst)

	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRoutingIO, err)
	}
	return dst, nil
}

// claim picks a free destination in dir and reserves it until release.
func (r *Router) claim(dir, name string) (string, error) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()

	dst, err := paths.UniquePathFunc(dir, name, r.isClaimed)
	if err != nil {
		return "", err
	}
	r.claimed[dst] = struct{}{}
	return dst, nil
}

// claimAccepted reserves the filtered name for the original together with
// the annotated name derived from it.
func (r *Router) claimAccepted(name string) (original, annotated string, err error) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()

	taken := func(p string) bool {
		return r.isClaimed(p) || r.isClaimed(annotatedPath(p))
	}
	original, err = paths.UniquePathFunc(r.layout.Filtered, name, taken)
	if err != nil {
		return "", "", err
	}
	annotated = annotatedPath(original)
	r.claimed[original] = struct{}{}
	r.claimed[annotated] = struct{}{}
	return original, annotated, nil
}

func (r *Router) isClaimed(p string) bool {
	_, ok := r.claimed[p]
	return ok
}

func (r *Router) release(ps ...string) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()
	for _, p := range ps {
		delete(r.claimed, p)
	}
}

func annotatedPath(original string) string {
	return filepath.Join(filepath.Dir(original), events.AnnotatedName(filepath.Base(original)))
}
