// Package notification emails the issuing patient when their sharing code
// changes hands. Delivery is best-effort and never blocks a lifecycle
// transition.
package notification

import (
	"context"
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/pkg/logger"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type EmailNotifier struct {
	dialer *gomail.Dialer
	from   string
	logger *logger.Logger
}

func NewEmailNotifier(cfg Config, logger *logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

func (n *EmailNotifier) GrantClaimed(ctx context.Context, issuer *model.Patient, claimant *model.Clinician, grant *model.AccessGrant) {
	subject := "Your sharing code was used"
	body := fmt.Sprintf(
		"Hello %s,\n\nDr. %s has claimed your sharing code %s and can now view the records you authorized until %s.\n\nIf you did not expect this, revoke the code from your portal.\n",
		issuer.Name, claimant.Name, grant.Token, grant.ExpiresAt.Format("Jan 2, 2006 15:04 MST"),
	)
	n.send(issuer.Email, subject, body)
}

func (n *EmailNotifier) GrantRevoked(ctx context.Context, issuer *model.Patient, grant *model.AccessGrant) {
	subject := "Your sharing code was revoked"
	body := fmt.Sprintf(
		"Hello %s,\n\nYour sharing code %s has been revoked. Nobody can use it anymore.\n",
		issuer.Name, grant.Token,
	)
	n.send(issuer.Email, subject, body)
}

func (n *EmailNotifier) send(to, subject, body string) {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		n.logger.Error(err, "failed to send notification email", "to", to, "subject", subject)
	}
}
