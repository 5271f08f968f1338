package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/medagenda/scheduling-core/internal/scheduling"
)

// SMTPNotifier sends plain-text confirmation mail over unauthenticated SMTP
// (Mailpit-compatible in dev, a relay in prod).
type SMTPNotifier struct {
	addr string
	from string
}

func NewSMTPNotifier(host, port, from string) *SMTPNotifier {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@medagenda.local"
	}
	return &SMTPNotifier{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

func (n *SMTPNotifier) ReservationConfirmed(ctx context.Context, to string, appt *scheduling.Appointment) error {
	subject := "Your appointment is confirmed"
	body := fmt.Sprintf(
		"Hello %s,\n\nYour appointment with Dr. %s (%s) is confirmed.\n\nDate: %s\nTime: %s - %s\n\nThis is an automated message, please do not reply.\n",
		appt.PatientName,
		appt.DoctorName,
		appt.SpecialtyName,
		appt.Date,
		appt.StartTime,
		appt.EndTime,
	)
	msg := buildMessage(n.from, to, subject, body)
	return smtp.SendMail(n.addr, nil, n.from, []string{to}, []byte(msg))
}

func buildMessage(from, to, subject, body string) string {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		body,
	)
}
