package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/logger"
)

// Message is an outgoing email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer delivers email. Delivery itself lives outside this service.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the structured log instead of sending them.
type LogMailer struct {
	logg *logger.Logger
}

// NewLogMailer returns a mailer for environments without an email provider.
func NewLogMailer(logg *logger.Logger) *LogMailer {
	if logg == nil {
		logg = logger.Nop()
	}
	return &LogMailer{logg: logg}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"to":      msg.To,
		"from":    msg.From,
		"subject": msg.Subject,
	}), "email suppressed")
	return nil
}

// Recipient is the member an email is addressed to.
type Recipient struct {
	UserID    uuid.UUID
	Email     string
	FirstName string
}

// OrderLine is one row of an order confirmation.
type OrderLine struct {
	ItemName  string
	Quantity  int
	UnitPrice int
	LineTotal int
}

// OrderSummary is what members see in store emails.
type OrderSummary struct {
	OrderID     uuid.UUID
	TotalCost   int
	Lines       []OrderLine
	PickupTitle string
	PickupStart *time.Time
}

// Notifier sends store emails to members.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, to Recipient, order OrderSummary) error
	SendOrderCancelled(ctx context.Context, to Recipient, orderID uuid.UUID, refunded int, reason string) error
	SendPickupMissed(ctx context.Context, to Recipient, orderID uuid.UUID, refunded int) error
}

type emailNotifier struct {
	mailer Mailer
	cfg    config.EmailConfig
	logg   *logger.Logger
}

// NewNotifier builds a notifier. When email is disabled every send is a logged no-op.
func NewNotifier(cfg config.EmailConfig, mailer Mailer, logg *logger.Logger) (Notifier, error) {
	if logg == nil {
		logg = logger.Nop()
	}
	if mailer == nil {
		if cfg.Enabled {
			return nil, fmt.Errorf("mailer required when email is enabled")
		}
		mailer = NewLogMailer(logg)
	}
	return &emailNotifier{mailer: mailer, cfg: cfg, logg: logg}, nil
}

func (n *emailNotifier) SendOrderConfirmation(ctx context.Context, to Recipient, order OrderSummary) error {
	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\nThanks for your order %s.\n\n", greeting(to), shortID(order.OrderID))
	for _, line := range order.Lines {
		fmt.Fprintf(&body, "  %d x %s @ %d = %d credits\n", line.Quantity, line.ItemName, line.UnitPrice, line.LineTotal)
	}
	fmt.Fprintf(&body, "\nTotal: %d credits\n", order.TotalCost)
	if order.PickupTitle != "" {
		fmt.Fprintf(&body, "Pickup: %s", order.PickupTitle)
		if order.PickupStart != nil {
			fmt.Fprintf(&body, " starting %s", order.PickupStart.UTC().Format(time.RFC1123))
		}
		body.WriteString("\n")
	}
	return n.send(ctx, to, "Your store order is confirmed", body.String())
}

func (n *emailNotifier) SendOrderCancelled(ctx context.Context, to Recipient, orderID uuid.UUID, refunded int, reason string) error {
	body := fmt.Sprintf("Hi %s,\n\nYour order %s was cancelled and %d credits were returned to your balance.\n",
		greeting(to), shortID(orderID), refunded)
	if reason != "" {
		body += fmt.Sprintf("Reason: %s\n", reason)
	}
	return n.send(ctx, to, "Your store order was cancelled", body)
}

func (n *emailNotifier) SendPickupMissed(ctx context.Context, to Recipient, orderID uuid.UUID, refunded int) error {
	body := fmt.Sprintf("Hi %s,\n\nThe pickup window for order %s has closed. Items you did not collect were returned to stock and %d credits were refunded.\n",
		greeting(to), shortID(orderID), refunded)
	return n.send(ctx, to, "You missed your store pickup", body)
}

func (n *emailNotifier) send(ctx context.Context, to Recipient, subject, body string) error {
	if strings.TrimSpace(to.Email) == "" {
		return fmt.Errorf("recipient %s has no email", to.UserID)
	}
	msg := Message{From: n.cfg.DefaultFrom, To: to.Email, Subject: subject, Body: body}
	if !n.cfg.Enabled {
		n.logg.Info(n.logg.WithFields(ctx, map[string]any{"to": to.Email, "subject": subject}), "email disabled; skipping send")
		return nil
	}
	return n.mailer.Send(ctx, msg)
}

func greeting(to Recipient) string {
	if to.FirstName != "" {
		return to.FirstName
	}
	return "there"
}

func shortID(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}
