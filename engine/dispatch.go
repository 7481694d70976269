package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	gomail "gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"salesflow/models"
)

// OutboundMessage is one rendered message ready for delivery.
type OutboundMessage struct {
	To       string
	Subject  string
	HTMLBody string
}

// Dispatcher sends a rendered message through one channel's transport and
// returns the transport-assigned message id. senderUserID identifies the
// user whose identity the message is sent under (the cadence creator).
type Dispatcher interface {
	Send(ctx context.Context, senderUserID, orgID uint, msg OutboundMessage, interactionID uint) (string, error)
}

// EmailDispatcher delivers email through the sending user's configured SMTP
// mailbox.
type EmailDispatcher struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewEmailDispatcher(db *gorm.DB, logger *logrus.Logger) *EmailDispatcher {
	return &EmailDispatcher{DB: db, Logger: logger}
}

func (d *EmailDispatcher) Send(ctx context.Context, senderUserID, orgID uint, msg OutboundMessage, interactionID uint) (string, error) {
	var sender models.Sender
	if err := d.DB.Where("user_id = ? AND is_active = ?", senderUserID, true).
		First(&sender).Error; err != nil {
		return "", fmt.Errorf("no active sender configured for user %d: %w", senderUserID, err)
	}

	messageID := uuid.New().String()

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", sender.FromName, sender.FromEmail))
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@salesflow>", messageID))
	m.SetHeader("X-Salesflow-Interaction", fmt.Sprintf("%d", interactionID))
	m.SetBody("text/html", msg.HTMLBody)

	dialer := gomail.NewDialer(sender.SMTPHost, sender.SMTPPort, sender.SMTPUsername, sender.SMTPPassword)
	if err := dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}

	d.Logger.WithFields(logrus.Fields{
		"org_id":     orgID,
		"sender_id":  sender.ID,
		"to":         msg.To,
		"message_id": messageID,
	}).Info("email dispatched")

	return messageID, nil
}

// WhatsAppDispatcher delivers messages through the Twilio WhatsApp API using
// a single org-independent sending number.
type WhatsAppDispatcher struct {
	client *twilio.RestClient
	from   string // "whatsapp:+1234567890"
	logger *logrus.Logger
}

func NewWhatsAppDispatcher(accountSID, authToken, from string, logger *logrus.Logger) (*WhatsAppDispatcher, error) {
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("twilio account SID and auth token must be provided")
	}
	if from == "" {
		return nil, fmt.Errorf("twilio WhatsApp from number must be provided")
	}
	if !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + from
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &WhatsAppDispatcher{client: client, from: from, logger: logger}, nil
}

func (d *WhatsAppDispatcher) Send(ctx context.Context, senderUserID, orgID uint, msg OutboundMessage, interactionID uint) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + msg.To)
	params.SetFrom(d.from)
	params.SetBody(msg.HTMLBody)

	resp, err := d.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio send failed: %w", err)
	}

	var sid string
	if resp.Sid != nil {
		sid = *resp.Sid
	}

	d.logger.WithFields(logrus.Fields{
		"org_id":      orgID,
		"to":          msg.To,
		"twilio_sid":  sid,
		"interaction": interactionID,
	}).Info("whatsapp message dispatched")

	return sid, nil
}
