package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileName(t *testing.T) {
	evt, err := ParseFileName("/data/inbox/vorota1_2024-05-01_12-30-05_2.jpg")
	require.NoError(t, err)

	assert.Equal(t, "vorota1", evt.CameraID)
	assert.Equal(t, "2024-05-01", evt.EventDate)
	assert.Equal(t, "12-30-05", evt.EventTime)
	assert.Equal(t, "2", evt.Index)
	assert.Equal(t, ".jpg", evt.Ext)
	assert.Equal(t, "vorota1_2024-05-01_12-30-05_2.jpg", evt.FileName)
	assert.Equal(t, "/data/inbox/vorota1_2024-05-01_12-30-05_2.jpg", evt.SourcePath)
	assert.Empty(t, evt.Rest)
}

func TestParseFileName_ExtraSegments(t *testing.T) {
	evt, err := ParseFileName("cam_d_t_1_extra_more.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"extra", "more"}, evt.Rest)
}

func TestParseFileName_Malformed(t *testing.T) {
	cases := []string{
		"cam1_badname.jpg",
		"cam1_a_b.jpg",
		"noseparators.jpg",
	}
	for _, name := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFileName(name)
			assert.True(t, errors.Is(err, ErrMalformedName), "got %v", err)
		})
	}
}

func TestParseFileName_EmptyCamera(t *testing.T) {
	evt, err := ParseFileName("_2024-05-01_10-00-00_1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "", evt.CameraID)
	assert.Equal(t, "2024-05-01", evt.EventDate)
	assert.Equal(t, "10-00-00", evt.EventTime)
	assert.Equal(t, "1", evt.Index)
}

func TestBuildFileName_RoundTrip(t *testing.T) {
	cases := []struct {
		name                   string
		camera, date, evtTime  string
		ext                    string
		want                   string
		wantCam, wantDate, tim string
	}{
		{"plain", "vorota2", "2024-05-01", "12:30:05", ".jpg", "vorota2_2024-05-01_12-30-05_1.jpg", "vorota2", "2024-05-01", "12-30-05"},
		{"dirty_camera", "Gate #3 (north)", "2024-05-01", "08:00:00", "jpg", "Gate3north_2024-05-01_08-00-00_1.jpg", "Gate3north", "2024-05-01", "08-00-00"},
		{"underscore_camera", "cam_a", "2024-05-01", "08:00:00", ".jpg", "cama_2024-05-01_08-00-00_1.jpg", "cama", "2024-05-01", "08-00-00"},
		{"missing_meta", "", "", "", ".jpg", "unknowncam_unknowndate_unknowntime_1.jpg", "unknowncam", "unknowndate", "unknowntime"},
		{"date_with_underscore", "cam", "2024_05_01", "1:2:3", ".jpg", "cam_2024-05-01_1-2-3_1.jpg", "cam", "2024-05-01", "1-2-3"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			name := BuildFileName(tc.camera, tc.date, tc.evtTime, 1, tc.ext)
			assert.Equal(t, tc.want, name)

			evt, err := ParseFileName(name)
			require.NoError(t, err)
			assert.Equal(t, tc.wantCam, evt.CameraID)
			assert.Equal(t, tc.wantDate, evt.EventDate)
			assert.Equal(t, tc.tim, evt.EventTime)
			assert.Equal(t, "1", evt.Index)
		})
	}
}

func TestAnnotatedName(t *testing.T) {
	assert.Equal(t, "cam_d_t_1_with_detections.jpg", AnnotatedName("cam_d_t_1.jpg"))
}

func TestDisplayTime(t *testing.T) {
	assert.Equal(t, "12:30:05", DisplayTime("12-30-05"))
}
