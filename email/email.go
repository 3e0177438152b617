package email

import (
	"context"
	"fmt"
	"net/smtp"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"quill/config"
)

// Mailer delivers one plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMTPMailer struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		host:     cfg.Host,
		port:     cfg.Port,
		user:     cfg.User,
		password: cfg.Password,
		from:     cfg.From,
	}
}

func (e *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	message := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", e.from, to, subject, body)

	var auth smtp.Auth
	if e.user != "" {
		auth = smtp.PlainAuth("", e.user, e.password, e.host)
	}
	addr := fmt.Sprintf("%s:%s", e.host, e.port)

	if err := smtp.SendMail(addr, auth, e.from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. Used when
// SMTP is not configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to, subject, body string) error {
	log.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("email (not sent, SMTP disabled)")
	return nil
}

func New(cfg config.SMTPConfig) Mailer {
	if !cfg.Enabled() {
		return LogMailer{}
	}
	return NewSMTPMailer(cfg)
}

// Notifier sends best-effort mail on its own goroutine. Failures are logged
// and never reach the caller.
type Notifier struct {
	mailer  Mailer
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewNotifier(mailer Mailer) *Notifier {
	return &Notifier{mailer: mailer, timeout: 30 * time.Second}
}

func (n *Notifier) Notify(to, subject, body string) {
	if n == nil || n.mailer == nil {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		log.Warn().Str("to", to).Str("subject", subject).Msg("notifier closed, dropping email")
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.mailer.Send(ctx, to, subject, body); err != nil {
			log.Warn().Err(err).Str("to", to).Str("subject", subject).Msg("notification email failed")
		}
	}()
}

// Wait stops accepting notifications and blocks until every dispatched one
// has finished.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}

func VerificationMessage(domain, token string) (subject, body string) {
	link := fmt.Sprintf("%s/verify/%s", domain, token)
	subject = "Verify your email address"
	body = fmt.Sprintf(`Hello!

Thanks for signing up.

Please click the following link to verify your email and activate your account:

%s

If you did not sign up, you can ignore this email.
`, link)
	return subject, body
}

func FavoriteMessage(postTitle string) (subject, body string) {
	return "Blog Added to Favorites",
		fmt.Sprintf("You have added %q to your favorites.", postTitle)
}
