package email

import (
	"io"

	"gopkg.in/gomail.v2"
)

// GomailProvider реализует Provider поверх gomail (SMTP)
type GomailProvider struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
}

func NewGomailProvider(host string, port int, username, password, from, fromName string) *GomailProvider {
	return &GomailProvider{
		dialer:   gomail.NewDialer(host, port, username, password),
		from:     from,
		fromName: fromName,
	}
}

func (p *GomailProvider) Send(email *Email) error {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(p.from, p.fromName))
	m.SetHeader("To", email.To...)
	m.SetHeader("Subject", email.Subject)

	if email.HTMLBody != "" {
		m.SetBody("text/html", email.HTMLBody)
		if email.Body != "" {
			m.AddAlternative("text/plain", email.Body)
		}
	} else {
		m.SetBody("text/plain", email.Body)
	}

	for _, att := range email.Attachments {
		att := att
		m.Attach(att.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(att.Content)
			return err
		}))
	}

	return p.dialer.DialAndSend(m)
}

func (p *GomailProvider) Close() error {
	return nil
}
