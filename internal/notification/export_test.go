package notification

import "net/smtp"

func (m *SMTPMailer) SetSendFunc(fn func(addr string, a smtp.Auth, from string, to []string, msg []byte) error) {
	m.send = fn
}
