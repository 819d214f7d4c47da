package email

import (
	"crypto/tls"
	"mime"
	"net/smtp"
	"strings"
)

// Sender delivers a plain text email.
type Sender interface {
	SendEmail(to, subject, body string) error
}

type EmailClient struct {
	smtpHost           string
	smtpPort           string
	from               string
	fromDisplayName    string
	replyTo            string
	replyToDisplayName string
	username           string
	password           string
}

var _ Sender = &EmailClient{}

func NewEmailClient(smtpHost, smtpPort, from, fromDisplayName, replyTo, replyToDisplayName, username, password string) (ec *EmailClient) {
	return &EmailClient{
		smtpHost:           smtpHost,
		smtpPort:           smtpPort,
		from:               from,
		fromDisplayName:    fromDisplayName,
		replyTo:            replyTo,
		replyToDisplayName: replyToDisplayName,
		username:           username,
		password:           password,
	}
}

func address(displayName, addr string) string {
	if displayName == "" {
		return addr
	}
	return mime.QEncoding.Encode("utf-8", displayName) + " <" + addr + ">"
}

func (ec *EmailClient) message(to, subject, body string) []byte {
	var replyTo string
	if ec.replyTo != "" {
		replyTo = "Reply-To: " + address(ec.replyToDisplayName, ec.replyTo) + "\r\n"
	}

	body = strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n")
	return []byte("From: " + address(ec.fromDisplayName, ec.from) + "\r\n" +
		replyTo +
		"To: " + to + "\r\n" +
		"Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"Content-Transfer-Encoding: 8bit\r\n" +
		"\r\n" +
		body)
}

func (ec *EmailClient) SendEmail(to, subject, body string) error {
	message := ec.message(to, subject, body)

	client, err := smtp.Dial(ec.smtpHost + ":" + ec.smtpPort)
	if err != nil {
		return err
	}
	defer client.Close()

	tlsConfig := &tls.Config{
		InsecureSkipVerify: false,
		ServerName:         ec.smtpHost,
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err = client.StartTLS(tlsConfig); err != nil {
			return err
		}
	}

	if ec.username != "" {
		auth := smtp.PlainAuth("", ec.username, ec.password, ec.smtpHost)
		if err = client.Auth(auth); err != nil {
			return err
		}
	}

	if err = client.Mail(ec.from); err != nil {
		return err
	}

	if err = client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}

	_, err = w.Write(message)
	if err != nil {
		return err
	}

	err = w.Close()
	if err != nil {
		return err
	}

	return client.Quit()
}
