package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/joinup-app/backend/config"
	"github.com/joinup-app/backend/pkg/queue"
)

// EmailSender sends a single email. Split out so the processor is testable
// without an SMTP server.
type EmailSender func(to, subject, bodyHTML string) error

// EmailProcessor processes queued notification emails.
type EmailProcessor struct {
	queue  *queue.Queue
	send   EmailSender
	logger *zap.Logger
}

// NewEmailProcessor creates an email job processor using SMTP from config.
func NewEmailProcessor(q *queue.Queue, cfg config.EmailConfig, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{queue: q, send: smtpSender(cfg), logger: logger}
}

func smtpSender(cfg config.EmailConfig) EmailSender {
	return func(to, subject, bodyHTML string) error {
		if cfg.SMTPHost == "" {
			return fmt.Errorf("smtp host not configured")
		}
		addr := cfg.SMTPHost + ":" + strconv.Itoa(cfg.SMTPPort)
		msg := []byte("From: " + cfg.FromName + " <" + cfg.FromAddress + ">\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
			"\r\n" + bodyHTML + "\r\n")
		var a smtp.Auth
		if cfg.SMTPUser != "" {
			a = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPHost)
		}
		return smtp.SendMail(addr, a, cfg.FromAddress, []string{to}, msg)
	}
}

// Process executes one email job.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEmail {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.RecipientEmail == "" {
		return fmt.Errorf("missing recipient")
	}

	if err := p.send(payload.RecipientEmail, payload.Subject, payload.BodyHTML); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	p.logger.Info("email sent",
		zap.String("email_type", payload.EmailType),
		zap.String("activity_id", payload.ActivityID.String()),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
