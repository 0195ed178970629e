package email

import (
	"context"

	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/email-service/internal/config"
	pkgerrors "github.com/jwalitptl/email-service/pkg/errors"
)

// Sender delivers rendered notifications over SMTP. Outbound throughput is
// capped by a token-bucket limiter so a burst of queued notifications does
// not trip provider throttling.
type Sender struct {
	dialer  *gomail.Dialer
	from    string
	limiter *rate.Limiter
}

func NewSender(cfg config.SMTPConfig) *Sender {
	return &Sender{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:    cfg.From,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
	}
}

func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return pkgerrors.NewTransport(err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return pkgerrors.NewTransport(err)
	}
	return nil
}
