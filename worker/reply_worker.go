package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesflow/models"
)

const replySnippetLimit = 500

// ReplyWorker polls sender IMAP inboxes for unseen mail and matches the
// From address against leads with active enrollments. A match marks the
// enrollment replied, which stops the cadence for that lead.
type ReplyWorker struct {
	db       *gorm.DB
	logger   *logrus.Logger
	interval time.Duration
}

func NewReplyWorker(db *gorm.DB, interval time.Duration, logger *logrus.Logger) *ReplyWorker {
	return &ReplyWorker{
		db:       db,
		logger:   logger,
		interval: interval,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	rw.logger.WithField("interval", rw.interval.String()).Info("reply worker started")
	ticker := time.NewTicker(rw.interval)

	for {
		select {
		case <-ticker.C:
			rw.pollAllSenders()
		case <-ctx.Done():
			ticker.Stop()
			rw.logger.Info("reply worker stopped")
			return
		}
	}
}

func (rw *ReplyWorker) pollAllSenders() {
	var senders []models.Sender
	if err := rw.db.Where("is_active = ? AND imap_host IS NOT NULL AND imap_host != ''", true).
		Find(&senders).Error; err != nil {
		rw.logger.WithError(err).Error("failed to load senders for reply polling")
		return
	}

	for i := range senders {
		if err := rw.pollSender(&senders[i]); err != nil {
			rw.logger.WithFields(logrus.Fields{
				"sender_id": senders[i].ID,
				"error":     err.Error(),
			}).Warn("reply poll failed for sender")
		}
	}
}

func (rw *ReplyWorker) pollSender(sender *models.Sender) error {
	imapAddr := fmt.Sprintf("%s:%d", sender.IMAPHost, sender.IMAPPort)
	imapClient, err := client.DialTLS(imapAddr, &tls.Config{
		ServerName: sender.IMAPHost,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(sender.IMAPUsername, sender.IMAPPassword); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := sender.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := imapClient.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset,
			[]imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	for msg := range messages {
		if err := rw.processMessage(msg, sender); err != nil {
			rw.logger.WithFields(logrus.Fields{
				"sender_id": sender.ID,
				"seq_num":   msg.SeqNum,
			}).WithError(err).Warn("failed to process inbound message")
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %w", err)
	}
	return nil
}

func (rw *ReplyWorker) processMessage(msg *imap.Message, sender *models.Sender) error {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return nil
	}
	from := strings.ToLower(msg.Envelope.From[0].Address())
	if from == "" || from == strings.ToLower(sender.FromEmail) {
		return nil
	}

	var lead models.Lead
	err := rw.db.Where("org_id = ? AND LOWER(email) = ?", sender.OrgID, from).
		First(&lead).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to look up lead: %w", err)
	}

	var enrollments []models.CadenceEnrollment
	if err := rw.db.Where("lead_id = ? AND status = ?", lead.ID, models.EnrollmentStatusActive).
		Find(&enrollments).Error; err != nil {
		return fmt.Errorf("failed to load enrollments: %w", err)
	}
	if len(enrollments) == 0 {
		return nil
	}

	snippet := extractSnippet(msg)
	subject := ""
	if msg.Envelope != nil {
		subject = msg.Envelope.Subject
	}

	for _, enrollment := range enrollments {
		if err := rw.markReplied(&enrollment, subject, snippet); err != nil {
			rw.logger.WithFields(logrus.Fields{
				"enrollment_id": enrollment.ID,
				"lead_id":       lead.ID,
			}).WithError(err).Warn("failed to mark enrollment replied")
			continue
		}
		rw.logger.WithFields(logrus.Fields{
			"enrollment_id": enrollment.ID,
			"lead_id":       lead.ID,
			"cadence_id":    enrollment.CadenceID,
		}).Info("reply detected, cadence stopped for lead")
	}
	return nil
}

// markReplied moves the enrollment to its terminal replied state and appends
// a replied interaction against the step that most likely prompted the reply.
func (rw *ReplyWorker) markReplied(enrollment *models.CadenceEnrollment, subject, snippet string) error {
	if err := rw.db.Model(enrollment).Updates(map[string]interface{}{
		"status":        models.EnrollmentStatusReplied,
		"next_step_due": gorm.Expr("NULL"),
	}).Error; err != nil {
		return err
	}

	// The reply answers the last step that actually fired, which is the one
	// before the current pointer (or step 1 right after enrollment).
	repliedTo := enrollment.CurrentStep - 1
	if repliedTo < 1 {
		repliedTo = 1
	}
	var step models.CadenceStep
	if err := rw.db.Where("cadence_id = ? AND step_order = ?", enrollment.CadenceID, repliedTo).
		First(&step).Error; err != nil {
		// Enrollment state is already final; the interaction is best effort.
		return nil
	}

	interaction := models.Interaction{
		OrgID:     enrollment.OrgID,
		CadenceID: enrollment.CadenceID,
		StepID:    step.ID,
		LeadID:    enrollment.LeadID,
		Type:      models.InteractionReplied,
		Channel:   models.ChannelEmail,
		Subject:   subject,
		Body:      snippet,
	}
	return rw.db.Create(&interaction).Error
}

// extractSnippet pulls the first text part of the message, preferring
// text/plain, truncated for storage.
func extractSnippet(msg *imap.Message) string {
	section := imap.BodySectionName{}
	literal := msg.GetBody(&section)
	if literal == nil {
		return ""
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return ""
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			break
		}

		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			if strings.Contains(contentType, "text/plain") && plain == "" {
				plain = string(b)
			} else if strings.Contains(contentType, "text/html") && html == "" {
				html = string(b)
			}
		}
	}

	snippet := plain
	if snippet == "" {
		snippet = html
	}
	snippet = strings.TrimSpace(snippet)
	if len(snippet) > replySnippetLimit {
		snippet = snippet[:replySnippetLimit]
	}
	return snippet
}
