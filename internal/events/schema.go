package events

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SchemaVersion identifies the file-name contract shared by ingestion and
// routing: <camera>_<date>_<time>_<index>.<ext>. Outcome messages carry it.
const SchemaVersion = 1

const (
	delimiter      = "_"
	minSegments    = 4
	annotatedToken = "_with_detections"

	unknownCamera = "unknowncam"
	unknownDate   = "unknowndate"
	unknownTime   = "unknowntime"
)

var (
	ErrMalformedName = errors.New("malformed event file name")

	cameraSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	segmentCleaner  = regexp.MustCompile(`[_/\\\s]+`)
)

// Event is one candidate notification unit parsed from an inbox file name.
// Date and time are display-only strings.
type Event struct {
	ID         uuid.UUID
	CameraID   string
	EventDate  string
	EventTime  string
	Index      string
	Rest       []string
	Ext        string
	FileName   string
	SourcePath string
}

// ParseFileName parses an inbox path into an Event. Names with fewer than
// four delimited segments are malformed. An empty camera segment is kept as
// the empty CameraID and resolves to the default policy.
func ParseFileName(path string) (Event, error) {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	parts := strings.Split(stem, delimiter)
	if len(parts) < minSegments {
		return Event{}, fmt.Errorf("%w: %q has %d segments, want at least %d", ErrMalformedName, name, len(parts), minSegments)
	}

	return Event{
		ID:         uuid.New(),
		CameraID:   parts[0],
		EventDate:  parts[1],
		EventTime:  parts[2],
		Index:      parts[3],
		Rest:       parts[4:],
		Ext:        ext,
		FileName:   name,
		SourcePath: path,
	}, nil
}

// BuildFileName renders the ingestion side of the schema. The result always
// parses back with ParseFileName.
func BuildFileName(camera, date, eventTime string, index int, ext string) string {
	cam := cameraSanitizer.ReplaceAllString(camera, "")
	if cam == "" {
		cam = unknownCamera
	}

	d := cleanSegment(date)
	if d == "" {
		d = unknownDate
	}

	t := cleanSegment(strings.ReplaceAll(eventTime, ":", "-"))
	if t == "" {
		t = unknownTime
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return strings.Join([]string{cam, d, t, strconv.Itoa(index)}, delimiter) + ext
}

func cleanSegment(s string) string {
	return strings.Trim(segmentCleaner.ReplaceAllString(strings.TrimSpace(s), "-"), "-")
}

// AnnotatedName returns the accepted-storage name of the annotated copy.
func AnnotatedName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + annotatedToken + ext
}

// DisplayTime turns the file-safe time back into clock notation.
func DisplayTime(eventTime string) string {
	return strings.ReplaceAll(eventTime, "-", ":")
}
