package validate

import (
	"context"
	"errors"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/discovery-cli/internal/model"
)

// SMTPProber asks the MX whether it would accept a mailbox via RCPT TO.
// No message is sent.
type SMTPProber struct {
	HeloName string
	From     string
	Port     string
	Dialer   *net.Dialer
}

// NewSMTPProber returns a prober that identifies as heloName.
func NewSMTPProber(heloName, from string) *SMTPProber {
	return &SMTPProber{
		HeloName: heloName,
		From:     from,
		Port:     "25",
		Dialer:   &net.Dialer{Timeout: 10 * time.Second},
	}
}

// Probe implements Prober. Permanent (5xx) RCPT replies are SMTPRejected;
// transient replies and connection errors return SMTPUnknown with an error.
func (p *SMTPProber) Probe(ctx context.Context, email, mxHost string) (model.SMTPResult, error) {
	conn, err := p.Dialer.DialContext(ctx, "tcp", net.JoinHostPort(mxHost, p.Port))
	if err != nil {
		return model.SMTPUnknown, eris.Wrapf(err, "validate: dial %s", mxHost)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, mxHost)
	if err != nil {
		_ = conn.Close()
		return model.SMTPUnknown, eris.Wrapf(err, "validate: greeting from %s", mxHost)
	}
	defer c.Close() //nolint:errcheck

	if err := c.Hello(p.HeloName); err != nil {
		return model.SMTPUnknown, eris.Wrap(err, "validate: helo")
	}
	if err := c.Mail(p.From); err != nil {
		return model.SMTPUnknown, eris.Wrap(err, "validate: mail from")
	}
	err = c.Rcpt(email)
	_ = c.Quit()
	return rcptResult(err)
}

func rcptResult(err error) (model.SMTPResult, error) {
	if err == nil {
		return model.SMTPAccepted, nil
	}
	var tp *textproto.Error
	if errors.As(err, &tp) && tp.Code >= 500 {
		return model.SMTPRejected, nil
	}
	return model.SMTPUnknown, eris.Wrap(err, "validate: rcpt to")
}
