package provider

import (
	"context"
	"fmt"
	"strings"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const GmailName = "GMAIL"

// MailDialer is satisfied by *gomail.Dialer.
type MailDialer interface {
	Dial() (gomail.SendCloser, error)
	DialAndSend(m ...*gomail.Message) error
}

type Gmail struct {
	dialer   MailDialer
	user     string
	fromName string
}

func NewGmail() *Gmail {
	dialer := gomail.NewDialer(
		config.Conf.GmailHost,
		config.Conf.GmailPort,
		config.Conf.GmailUser,
		config.Conf.GmailAppPassword,
	)

	return NewGmailWithDialer(dialer, config.Conf.GmailUser, config.Conf.GmailFromName)
}

func NewGmailWithDialer(dialer MailDialer, user, fromName string) *Gmail {
	return &Gmail{dialer: dialer, user: user, fromName: fromName}
}

func (g *Gmail) Name() string {
	return GmailName
}

// Send delivers over SMTP. The SMTP session has no context support, so a
// cancelled ctx abandons the wait while the dial finishes in the background.
func (g *Gmail) Send(ctx context.Context, msg Message) (Receipt, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), g.domain())

	m := gomail.NewMessage()
	m.SetAddressHeader("From", g.user, g.fromName)
	m.SetHeader("To", msg.Recipient)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", msg.Body)

	done := make(chan error, 1)

	go func() {
		done <- g.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case err := <-done:
		if err != nil {
			logging.Logger.Error("Gmail send failed",
				zap.String("correlation_id", msg.CorrelationID),
				zap.String("error", err.Error()),
			)

			return Receipt{}, err
		}
	}

	logging.Logger.Info("Gmail email sent",
		zap.String("correlation_id", msg.CorrelationID),
		zap.String("message_id", messageID),
	)

	return Receipt{MessageID: messageID}, nil
}

// CheckHealth opens and closes an authenticated SMTP session.
func (g *Gmail) CheckHealth(ctx context.Context) bool {
	done := make(chan error, 1)

	go func() {
		sc, err := g.dialer.Dial()
		if err != nil {
			done <- err
			return
		}

		done <- sc.Close()
	}()

	select {
	case <-ctx.Done():
		return false
	case err := <-done:
		if err != nil {
			logging.Logger.Error("Gmail health check failed", zap.String("error", err.Error()))
			return false
		}

		return true
	}
}

func (g *Gmail) domain() string {
	if at := strings.LastIndex(g.user, "@"); at >= 0 && at < len(g.user)-1 {
		return g.user[at+1:]
	}

	return "herald.local"
}
