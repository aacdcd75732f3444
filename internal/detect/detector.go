package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/metrics"
)

var ErrDetectionFailed = errors.New("detection failed")

// Detection is one object found by the detector.
type Detection struct {
	ClassID    int
	Confidence float64
	Box        image.Rectangle
}

// Detector finds objects in an image file. Detections below minConfidence
// are not returned.
type Detector interface {
	Detect(ctx context.Context, imagePath string, minConfidence float64) ([]Detection, error)
}

type wireDetection struct {
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
}

// HTTPDetector calls a YOLO inference service over HTTP.
type HTTPDetector struct {
	url       string
	imageSize int
	client    *http.Client
}

func NewHTTPDetector(url string, timeout time.Duration, imageSize int) *HTTPDetector {
	return &HTTPDetector{
		url:       url,
		imageSize: imageSize,
		client:    &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDetector) Detect(ctx context.Context, imagePath string, minConfidence float64) ([]Detection, error) {
	start := time.Now()
	dets, err := d.detect(ctx, imagePath, minConfidence)
	metrics.DetectorLatency.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.DetectorFailuresTotal.WithLabelValues("http").Inc()
		return nil, err
	}
	return dets, nil
}

func (d *HTTPDetector) detect(ctx context.Context, imagePath string, minConfidence float64) ([]Detection, error) {
	body, contentType, err := buildRequestBody(imagePath, minConfidence, d.imageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectionFailed, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrDetectionFailed, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrDetectionFailed, err)
	}

	out := make([]Detection, 0, len(wr.Detections))
	for _, w := range wr.Detections {
		// Servers are not trusted to honour conf.
		if w.Confidence < minConfidence {
			continue
		}
		out = append(out, Detection{
			ClassID:    w.ClassID,
			Confidence: w.Confidence,
			Box:        image.Rect(int(w.Box[0]), int(w.Box[1]), int(w.Box[2]), int(w.Box[3])),
		})
	}

	log.Debug().Str("file", filepath.Base(imagePath)).Int("count", len(out)).Msg("Detector returned")
	return out, nil
}

func buildRequestBody(imagePath string, minConfidence float64, imageSize int) (io.Reader, string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("conf", strconv.FormatFloat(minConfidence, 'f', -1, 64)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("imgsz", strconv.Itoa(imageSize)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// StaticDetector returns canned detections keyed by file base name.
// Used for dry runs and tests.
type StaticDetector struct {
	Results map[string][]Detection
	Errors  map[string]error

	calls atomic.Int64
}

// Calls reports how many times Detect ran.
func (s *StaticDetector) Calls() int {
	return int(s.calls.Load())
}

func (s *StaticDetector) Detect(_ context.Context, imagePath string, minConfidence float64) ([]Detection, error) {
	s.calls.Add(1)
	name := filepath.Base(imagePath)
	if err, ok := s.Errors[name]; ok {
		return nil, fmt.Errorf("%w: %v", ErrDetectionFailed, err)
	}
	var out []Detection
	for _, d := range s.Results[name] {
		if d.Confidence >= minConfidence {
			out = append(out, d)
		}
	}
	return out, nil
}
