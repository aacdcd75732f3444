package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/technosupport/ts-eventgate/internal/config"
)

// TelegramSender posts photos through the Bot API sendPhoto method.
type TelegramSender struct {
	endpoint string
	client   *http.Client
}

func NewTelegramSender(cfg config.TelegramConfig) *TelegramSender {
	base := strings.TrimRight(cfg.APIURL, "/")
	return &TelegramSender{
		endpoint: fmt.Sprintf("%s/bot%s/sendPhoto", base, cfg.BotToken),
		client:   &http.Client{Timeout: cfg.SendTimeout},
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *TelegramSender) SendPhoto(ctx context.Context, target, photoPath, caption string) error {
	body, contentType, err := photoForm(target, photoPath, caption)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("telegram request failed: %w", uerr.Err)
		}
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var tr telegramResponse
	if err := json.Unmarshal(raw, &tr); err == nil && !tr.OK {
		return fmt.Errorf("telegram rejected message: %s", tr.Description)
	}
	return nil
}

func photoForm(target, photoPath, caption string) (io.Reader, string, error) {
	f, err := os.Open(photoPath)
	if err != nil {
		return nil, "", fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{{"chat_id", target}, {"caption", caption}, {"parse_mode", "Markdown"}}
	for _, kv := range fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("photo", filepath.Base(photoPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
