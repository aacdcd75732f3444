package ingest

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	cameraMarker = "CAMERA NAME(NUM):"
	timeMarker   = "EVENT TIME:"
)

var ErrBadMessage = errors.New("unparseable mail message")

// Attachment is one decoded MIME attachment.
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Message is the part of a camera notification mail that ingestion needs.
type Message struct {
	ID          string
	Date        time.Time
	Subject     string
	Body        string
	CameraName  string
	EventDate   string
	EventTime   string
	Attachments []Attachment
}

// ParseMessage reads an RFC 5322 message and extracts the body text, the
// camera metadata lines and image attachments.
func ParseMessage(raw []byte) (Message, error) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	msg := Message{
		ID:      strings.Trim(strings.TrimSpace(m.Header.Get("Message-Id")), "<>"),
		Subject: decodeHeader(m.Header.Get("Subject")),
	}
	if d, err := m.Header.Date(); err == nil {
		msg.Date = d
	}

	var body strings.Builder
	if err := walkPart(textproto.MIMEHeader(m.Header), m.Body, &body, &msg.Attachments); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	msg.Body = body.String()
	if strings.Contains(strings.ToLower(msg.Body), "<html") {
		msg.Body = HTMLToText(msg.Body)
	}
	msg.CameraName, msg.EventDate, msg.EventTime = ParseMetadata(msg.Body)
	return msg, nil
}

func walkPart(h textproto.MIMEHeader, r io.Reader, body *strings.Builder, atts *[]Attachment) error {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(r, params["boundary"])
		for {
			p, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if err := walkPart(p.Header, p, body, atts); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(decodeTransfer(h.Get("Content-Transfer-Encoding"), r))
	if err != nil {
		return err
	}

	disposition := h.Get("Content-Disposition")
	if disposition != "" && strings.HasPrefix(mediaType, "image/") {
		*atts = append(*atts, Attachment{
			FileName:    attachmentName(disposition, params),
			ContentType: mediaType,
			Data:        data,
		})
		return nil
	}

	if strings.HasPrefix(mediaType, "text/") {
		body.Write(data)
	}
	return nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// newlineStripper drops CR and LF so line-wrapped base64 decodes.
type newlineStripper struct{ r io.Reader }

func (n *newlineStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		j := 0
		for _, b := range p[:c] {
			if b != '\r' && b != '\n' {
				p[j] = b
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}

func attachmentName(disposition string, ctParams map[string]string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
		return decodeHeader(params["filename"])
	}
	return decodeHeader(ctParams["name"])
}

func decodeHeader(v string) string {
	dec := new(mime.WordDecoder)
	if out, err := dec.DecodeHeader(v); err == nil {
		return out
	}
	return v
}

// HTMLToText strips markup, turning <br> into newlines and unescaping entities.
func HTMLToText(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Br:
				b.WriteByte('\n')
			case atom.Script, atom.Style:
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				if skip > 0 {
					skip--
				}
			}
		}
	}
}

// ParseMetadata finds the camera name and event date/time lines in a body.
// Missing values are returned empty.
func ParseMetadata(body string) (camera, date, eventTime string) {
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		if i := strings.Index(line, cameraMarker); i >= 0 {
			info := strings.TrimSpace(line[i+len(cameraMarker):])
			camera = strings.TrimSpace(strings.SplitN(info, "(", 2)[0])
		}
		if i := strings.Index(line, timeMarker); i >= 0 {
			info := strings.TrimSpace(line[i+len(timeMarker):])
			if parts := strings.SplitN(info, ",", 2); len(parts) == 2 {
				date = strings.TrimSpace(parts[0])
				eventTime = strings.TrimSpace(parts[1])
			}
		}
	}
	return camera, date, eventTime
}
