package email

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"quill/config"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+"|"+subject)
	return m.err
}

func TestNotifier_DeliversInBackground(t *testing.T) {
	m := &recordingMailer{}
	n := NewNotifier(m)

	n.Notify("a@example.com", "hello", "body")
	n.Notify("b@example.com", "hello", "body")
	n.Wait()

	assert.ElementsMatch(t, []string{"a@example.com|hello", "b@example.com|hello"}, m.sent)
}

func TestNotifier_SwallowsErrors(t *testing.T) {
	m := &recordingMailer{err: errors.New("smtp down")}
	n := NewNotifier(m)

	assert.NotPanics(t, func() {
		n.Notify("a@example.com", "hello", "body")
		n.Wait()
	})
	assert.Len(t, m.sent, 1)
}

func TestNotifier_Nil(t *testing.T) {
	var n *Notifier
	assert.NotPanics(t, func() {
		n.Notify("a@example.com", "s", "b")
		n.Wait()
	})
}

func TestNotifier_DropsAfterWait(t *testing.T) {
	m := &recordingMailer{}
	n := NewNotifier(m)

	n.Notify("a@example.com", "before", "body")
	n.Wait()
	n.Notify("b@example.com", "after", "body")
	n.Wait()

	assert.Equal(t, []string{"a@example.com|before"}, m.sent)
}

func TestNotifier_NotifyDuringWait(t *testing.T) {
	m := &recordingMailer{}
	n := NewNotifier(m)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Notify("a@example.com", "hello", "body")
		}()
	}
	n.Wait()
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.LessOrEqual(t, len(m.sent), 20)
}

func TestVerificationMessage(t *testing.T) {
	subject, body := VerificationMessage("https://quill.test", "abc-123")

	assert.Equal(t, "Verify your email address", subject)
	assert.Contains(t, body, "https://quill.test/verify/abc-123")
}

func TestNew_FallsBackToLogMailer(t *testing.T) {
	m := New(config.SMTPConfig{})
	_, ok := m.(LogMailer)
	assert.True(t, ok)
	assert.NoError(t, m.Send(context.Background(), "a@example.com", "s", "b"))

	m = New(config.SMTPConfig{Host: "smtp.example.com", Port: "25"})
	_, ok = m.(*SMTPMailer)
	assert.True(t, ok)
}
