package email

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedMail struct {
	to, subject, body string
}

type fakeSender struct {
	sent []recordedMail
	err  error
}

func (f *fakeSender) SendEmail(to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, recordedMail{to, subject, body})
	return nil
}

func testNotice() IdleNotice {
	return IdleNotice{
		User:             "王小明",
		Email:            "owner@example.com",
		ProjectName:      "GPU-LAB",
		SiteID:           "3001",
		SiteName:         "training",
		IdleDuration:     26*time.Hour + 30*time.Minute,
		ThresholdPercent: 5,
		LastSample:       time.Date(2024, 3, 2, 12, 30, 0, 0, time.UTC),
	}
}

func TestIdleNotice(t *testing.T) {
	notice := testNotice()

	assert.Equal(t, "[TWCC] GPU idle on site 3001 for 1 day, 2:30:00", notice.Subject())
	body := notice.Body()
	assert.True(t, strings.HasPrefix(body, "Hi 王小明,\n"))
	assert.Contains(t, body, "site 3001 (training) in project GPU-LAB")
	assert.Contains(t, body, "at or below 5.0% utilization for 1 day, 2:30:00")
	assert.Contains(t, body, "as of 2024-03-02T12:30:00Z.")
}

func TestNotifier(t *testing.T) {
	sender := &fakeSender{}
	notifier := &Notifier{Sender: sender}

	sent, err := notifier.Notify(testNotice())
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "owner@example.com", sender.sent[0].to)

	t.Run("Test override recipient", func(t *testing.T) {
		sender := &fakeSender{}
		notifier := &Notifier{Sender: sender, To: "admin@example.com"}
		_, err := notifier.Notify(testNotice())
		require.NoError(t, err)
		assert.Equal(t, "admin@example.com", sender.sent[0].to)
	})

	t.Run("Test no recipient", func(t *testing.T) {
		notice := testNotice()
		notice.Email = ""
		sent, err := notifier.Notify(notice)
		assert.NoError(t, err)
		assert.False(t, sent)
	})

	t.Run("Test send failure", func(t *testing.T) {
		notifier := &Notifier{Sender: &fakeSender{err: errors.New("connection refused")}}
		sent, err := notifier.Notify(testNotice())
		assert.False(t, sent)
		assert.ErrorContains(t, err, "connection refused")
	})
}

func TestMessage(t *testing.T) {
	ec := NewEmailClient("smtp.example.com", "587", "gpu@example.com", "GPU Monitor", "ops@example.com", "", "", "")
	message := string(ec.message("owner@example.com", "GPU idle 王", "line one\nline two"))

	assert.Contains(t, message, "From: GPU Monitor <gpu@example.com>\r\n")
	assert.Contains(t, message, "Reply-To: ops@example.com\r\n")
	assert.Contains(t, message, "To: owner@example.com\r\n")
	assert.Contains(t, message, "Subject: =?utf-8?q?GPU_idle_")
	assert.Contains(t, message, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.True(t, strings.HasSuffix(message, "\r\n\r\nline one\r\nline two"))
}
