package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

var errSMTPConfig = errors.New("smtp server and from address are required to send emails")

type smtpConfig struct {
	Server   string
	Port     int
	User     string
	Password string
	From     string
}

// reportSender delivers one department workbook to its recipients.
type reportSender interface {
	SendReport(ctx context.Context, department string, recipients []string, attachment string) error
}

type smtpSender struct {
	cfg        smtpConfig
	reportDate time.Time
}

func newSMTPSender(cfg smtpConfig, reportDate time.Time) (*smtpSender, error) {
	if cfg.Server == "" || cfg.From == "" {
		return nil, errSMTPConfig
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &smtpSender{cfg: cfg, reportDate: reportDate}, nil
}

func (s *smtpSender) SendReport(ctx context.Context, department string, recipients []string, attachment string) error {
	msg, err := buildReportMessage(s.cfg.From, recipients, department, s.reportDate, attachment)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if s.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.User),
			mail.WithPassword(s.cfg.Password),
		)
	}
	client, err := mail.NewClient(s.cfg.Server, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func reportSubject(department string, date time.Time) string {
	return fmt.Sprintf("Microsoft Defender Report for %s - %s", department, formatDate(date))
}

func buildReportMessage(from string, to []string, department string, date time.Time, attachment string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}
	msg.Subject(reportSubject(department, date))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Please find attached the Microsoft Defender report for department %s generated on %s.\n\nRegards,\nAV Team\n",
		department, formatDate(date)))
	msg.AttachFile(attachment)
	return msg, nil
}

// loadRecipients reads the department -> addresses map.
func loadRecipients(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read emails config: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse emails config %s: %w", path, err)
	}
	recipients := make(map[string][]string, len(raw))
	for dept, addrs := range raw {
		recipients[strings.ToLower(strings.TrimSpace(dept))] = addrs
	}
	return recipients, nil
}

// dispatchEmails sends every written department report and returns how many
// went out. Failures are logged per department.
func dispatchEmails(ctx context.Context, log zerolog.Logger, sender reportSender, recipients map[string][]string, outputs []reportOutput) int {
	sent := 0
	for _, output := range outputs {
		if output.Department == "" {
			continue
		}
		to := recipients[output.Department]
		if len(to) == 0 {
			log.Warn().Str("department", output.Department).Msg("No recipients configured; skipping email")
			continue
		}
		if err := sender.SendReport(ctx, output.Department, to, output.Path); err != nil {
			log.Error().Err(err).Str("department", output.Department).Msg("Failed to send report email")
			continue
		}
		sent++
		log.Info().Strs("to", to).Str("department", output.Department).Msg("Report emailed")
	}
	return sent
}
