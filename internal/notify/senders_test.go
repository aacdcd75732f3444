package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/technosupport/ts-eventgate/internal/config"
)

func writePhoto(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cam_d_t_1_with_detections.jpg")
	require.NoError(t, os.WriteFile(p, []byte("jpeg-bytes"), 0o600))
	return p
}

func TestTelegramSender_SendPhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:abc/sendPhoto", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "-100500", r.FormValue("chat_id"))
		assert.Equal(t, "Markdown", r.FormValue("parse_mode"))
		assert.Equal(t, "*cam*: car\n`d t`", r.FormValue("caption"))

		f, hdr, err := r.FormFile("photo")
		if assert.NoError(t, err) {
			defer f.Close()
			data, _ := io.ReadAll(f)
			assert.Equal(t, "jpeg-bytes", string(data))
			assert.Equal(t, "cam_d_t_1_with_detections.jpg", hdr.Filename)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender(config.TelegramConfig{BotToken: "123:abc", APIURL: srv.URL + "/", SendTimeout: 5 * time.Second})
	require.NoError(t, s.SendPhoto(context.Background(), "-100500", writePhoto(t), "*cam*: car\n`d t`"))
}

func TestTelegramSender_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http_error", http.StatusBadRequest, `{"ok":false,"description":"Bad Request: chat not found"}`},
		{"not_ok", http.StatusOK, `{"ok":false,"description":"blocked"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := NewTelegramSender(config.TelegramConfig{BotToken: "t", APIURL: srv.URL, SendTimeout: time.Second})
			assert.Error(t, s.SendPhoto(context.Background(), "1", writePhoto(t), "c"))
		})
	}
}

func TestTelegramSender_MissingPhoto(t *testing.T) {
	s := NewTelegramSender(config.TelegramConfig{BotToken: "t", APIURL: "http://127.0.0.1:1"})
	assert.Error(t, s.SendPhoto(context.Background(), "1", "/nonexistent.jpg", "c"))
}

func TestTelegramSender_ErrorHidesToken(t *testing.T) {
	s := NewTelegramSender(config.TelegramConfig{BotToken: "secret-token", APIURL: "http://127.0.0.1:1", SendTimeout: time.Second})
	err := s.SendPhoto(context.Background(), "1", writePhoto(t), "c")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestSMTPSender_Send(t *testing.T) {
	var got *gomail.Message
	s := &SMTPSender{
		from:    "cams@example.com",
		timeout: time.Second,
		dial: func(msgs ...*gomail.Message) error {
			got = msgs[0]
			return nil
		},
	}

	photo := writePhoto(t)
	require.NoError(t, s.Send(context.Background(), Email{To: "ops@example.com", Subject: "S", Body: "B", AttachmentPath: photo}))
	require.NotNil(t, got)
	assert.Equal(t, []string{"ops@example.com"}, got.GetHeader("To"))
	assert.Equal(t, []string{"cams@example.com"}, got.GetHeader("From"))
	assert.Equal(t, []string{"S"}, got.GetHeader("Subject"))
}

func TestSMTPSender_Timeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	s := &SMTPSender{
		from:    "cams@example.com",
		timeout: 20 * time.Millisecond,
		dial: func(...*gomail.Message) error {
			<-block
			return nil
		},
	}
	err := s.Send(context.Background(), Email{To: "ops@example.com"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestSMTPSender_DialError(t *testing.T) {
	s := &SMTPSender{dial: func(...*gomail.Message) error { return errors.New("535 auth failed") }}
	err := s.Send(context.Background(), Email{To: "ops@example.com"})
	assert.ErrorContains(t, err, "535 auth failed")
}
