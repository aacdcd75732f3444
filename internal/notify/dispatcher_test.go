package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-eventgate/internal/config"
	"github.com/technosupport/ts-eventgate/internal/policy"
	"github.com/technosupport/ts-eventgate/internal/retryqueue"
)

const acceptedPath = "/data/filtered/vorota1_2024-05-01_12-30-05_1_with_detections.jpg"

func notification() Notification {
	return Notification{
		AcceptedPath: acceptedPath,
		CameraID:     "vorota1",
		EventDate:    "2024-05-01",
		EventTime:    "12-30-05",
		Labels:       []string{"car", "truck"},
	}
}

func TestCaptionAndBody(t *testing.T) {
	assert.Equal(t, "*vorota1*: car, truck\n`2024-05-01 12:30:05`", Caption("vorota1", []string{"car", "truck"}, "2024-05-01", "12-30-05"))
	assert.Equal(t, "Objects detected on camera: vorota1", Subject("vorota1"))
	assert.Equal(t, "vorota1: detected car, truck.", Body("vorota1", []string{"car", "truck"}))
}

func TestNotify_ChatFailureQueuesOneRecordPerTarget(t *testing.T) {
	email := new(MockEmailSender)
	chat := new(MockChatSender)
	sink := new(MockRetrySink)

	caption := Caption("vorota1", []string{"car", "truck"}, "2024-05-01", "12-30-05")
	chat.On("SendPhoto", mock.Anything, "A", acceptedPath, caption).Return(nil)
	chat.On("SendPhoto", mock.Anything, "B", acceptedPath, caption).Return(errors.New("502 bad gateway"))
	chat.On("SendPhoto", mock.Anything, "C", acceptedPath, caption).Return(nil)

	sink.On("Persist", mock.MatchedBy(func(r retryqueue.Record) bool {
		return r.PhotoPath == acceptedPath && len(r.ChatIDs) == 1 && r.ChatIDs[0] == "B" &&
			r.CameraName == "vorota1" && r.EventTime == "12-30-05"
	})).Return("/data/telegram-queue/x.json", nil).Once()

	p := policy.NewCameraPolicy("vorota1", config.CameraConfig{
		ChatEnabled: true, ChatTargets: []string{"A", "B", "C"},
	})

	report := NewDispatcher(email, chat, sink).Notify(context.Background(), notification(), p)

	assert.Equal(t, Report{ChatSent: 2, ChatQueued: 1}, report)
	chat.AssertNumberOfCalls(t, "SendPhoto", 3)
	sink.AssertExpectations(t)
	email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestNotify_EmailPerRecipientContinuesAfterFailure(t *testing.T) {
	email := new(MockEmailSender)
	chat := new(MockChatSender)
	sink := new(MockRetrySink)

	email.On("Send", mock.Anything, mock.MatchedBy(func(e Email) bool { return e.To == "a@example.com" })).Return(errors.New("550 mailbox"))
	email.On("Send", mock.Anything, mock.MatchedBy(func(e Email) bool {
		return e.To == "b@example.com" && e.AttachmentPath == acceptedPath && e.Subject == "Objects detected on camera: vorota1"
	})).Return(nil)

	p := policy.NewCameraPolicy("vorota1", config.CameraConfig{
		EmailEnabled: true, EmailRecipients: []string{"a@example.com", "", "b@example.com"},
		ChatEnabled: false, ChatTargets: []string{"A"},
	})

	report := NewDispatcher(email, chat, sink).Notify(context.Background(), notification(), p)

	assert.Equal(t, Report{EmailSent: 1, EmailFailed: 1}, report)
	email.AssertNumberOfCalls(t, "Send", 2)
	chat.AssertNotCalled(t, "SendPhoto", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	sink.AssertNotCalled(t, "Persist", mock.Anything)
}

func TestNotify_QueueWriteFailureCountsAsLost(t *testing.T) {
	chat := new(MockChatSender)
	sink := new(MockRetrySink)
	chat.On("SendPhoto", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("timeout"))
	sink.On("Persist", mock.Anything).Return("", errors.New("disk full"))

	p := policy.NewCameraPolicy("vorota1", config.CameraConfig{ChatEnabled: true, ChatTargets: []string{"A"}})
	report := NewDispatcher(new(MockEmailSender), chat, sink).Notify(context.Background(), notification(), p)

	assert.Equal(t, Report{ChatLost: 1}, report)
}

// blockingEmail holds a send until released, to prove chat is not starved.
type blockingEmail struct{ release chan struct{} }

func (b blockingEmail) Send(ctx context.Context, _ Email) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestNotify_ChannelsRunIndependently(t *testing.T) {
	release := make(chan struct{})
	chatDone := make(chan struct{})

	chat := new(MockChatSender)
	chat.On("SendPhoto", mock.Anything, "A", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(chatDone)
	}).Return(nil)

	p := policy.NewCameraPolicy("vorota1", config.CameraConfig{
		EmailEnabled: true, EmailRecipients: []string{"a@example.com"},
		ChatEnabled: true, ChatTargets: []string{"A"},
	})

	d := NewDispatcher(blockingEmail{release: release}, chat, new(MockRetrySink))
	result := make(chan Report, 1)
	go func() { result <- d.Notify(context.Background(), notification(), p) }()

	select {
	case <-chatDone:
	case <-time.After(time.Second):
		t.Fatal("chat send was blocked by a hanging email send")
	}
	close(release)

	report := <-result
	assert.Equal(t, Report{EmailSent: 1, ChatSent: 1}, report)
}

func TestNotify_NothingEnabled(t *testing.T) {
	p := policy.NewCameraPolicy("cam", config.CameraConfig{EmailEnabled: true, ChatEnabled: true})
	report := NewDispatcher(new(MockEmailSender), new(MockChatSender), new(MockRetrySink)).Notify(context.Background(), notification(), p)
	assert.Equal(t, Report{}, report)
}

func TestRedeliver_WithQueue(t *testing.T) {
	dir := t.TempDir()
	q := retryqueue.New(dir, filepath.Join(dir, "dead"))

	chat := new(MockChatSender)
	chat.On("SendPhoto", mock.Anything, "B", acceptedPath, "*vorota1*: car\n`2024-05-01 12:30:05`").Return(nil)

	d := NewDispatcher(new(MockEmailSender), chat, q)
	_, err := q.Persist(retryqueue.Record{
		PhotoPath: acceptedPath, CameraName: "vorota1", EventDate: "2024-05-01", EventTime: "12-30-05",
		DetectedLabels: []string{"car"}, ChatIDs: []string{"B"},
	})
	require.NoError(t, err)

	res := retryqueue.NewSweeper(q, d, time.Minute, 0).SweepOnce(context.Background())
	assert.Equal(t, 1, res.Delivered)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.IsDir(), "record should be removed, found %s", e.Name())
	}
	chat.AssertExpectations(t)
}

func TestNewSenders_SelectVariant(t *testing.T) {
	assert.IsType(t, LogEmailSender{}, NewEmailSender(config.EmailConfig{Host: "smtp.example.com"}))
	assert.IsType(t, &SMTPSender{}, NewEmailSender(config.EmailConfig{Host: "smtp.example.com", Account: "a", Password: "p", Port: 587}))
	assert.IsType(t, LogChatSender{}, NewChatSender(config.TelegramConfig{}))
	assert.IsType(t, &TelegramSender{}, NewChatSender(config.TelegramConfig{BotToken: "123:abc", APIURL: "https://api.telegram.org"}))

	assert.NoError(t, LogEmailSender{}.Send(context.Background(), Email{To: "x"}))
	assert.NoError(t, LogChatSender{}.SendPhoto(context.Background(), "x", "y", "z"))
}
