package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrNoRecipient = errors.New("notification has no recipient")

type Kind string

const (
	KindApplicationConfirmation Kind = "application_confirmation"
	KindAward                   Kind = "award"
	KindFunding                 Kind = "funding"
)

// GrantNotice is the payload handed to the dispatcher for every workflow email.
type GrantNotice struct {
	RecipientEmail   string
	RecipientName    string
	OpportunityName  string
	OrganizationName string
	Amount           decimal.NullDecimal
}

// Subject renders the subject line for a notice kind.
func Subject(kind Kind, n GrantNotice) string {
	switch kind {
	case KindApplicationConfirmation:
		return fmt.Sprintf("Application received: %s", n.OpportunityName)
	case KindAward:
		return fmt.Sprintf("You have been awarded %s", n.OpportunityName)
	case KindFunding:
		return fmt.Sprintf("Funds released: %s", n.OpportunityName)
	}
	return n.OpportunityName
}

// Body renders a short plain-text body.
func Body(kind Kind, n GrantNotice) string {
	var b strings.Builder
	name := n.RecipientName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	switch kind {
	case KindApplicationConfirmation:
		fmt.Fprintf(&b, "Your application for %s", n.OpportunityName)
		if n.OrganizationName != "" {
			fmt.Fprintf(&b, " with %s", n.OrganizationName)
		}
		b.WriteString(" has been received.\n")
	case KindAward:
		fmt.Fprintf(&b, "%s has awarded you %s", orDefault(n.OrganizationName, "An organization"), n.OpportunityName)
		if n.Amount.Valid {
			fmt.Fprintf(&b, " in the amount of $%s", n.Amount.Decimal.StringFixed(2))
		}
		b.WriteString(".\n")
	case KindFunding:
		fmt.Fprintf(&b, "Funding for %s", n.OpportunityName)
		if n.Amount.Valid {
			fmt.Fprintf(&b, " ($%s)", n.Amount.Decimal.StringFixed(2))
		}
		b.WriteString(" has been released.\n")
	}
	return b.String()
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// LogSender writes notifications to the log instead of delivering them. It is
// the default dispatcher until an email provider is configured.
type LogSender struct {
	From    string
	Verbose bool // also log the rendered body
	Logger  *log.Logger
}

func NewLogSender(from string, logger *log.Logger) *LogSender {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSender{From: from, Logger: logger}
}

func (s *LogSender) SendGrantApplicationConfirmation(ctx context.Context, n GrantNotice) error {
	return s.send(ctx, KindApplicationConfirmation, n)
}

func (s *LogSender) SendGrantAwardNotification(ctx context.Context, n GrantNotice) error {
	return s.send(ctx, KindAward, n)
}

func (s *LogSender) SendGrantFundingNotification(ctx context.Context, n GrantNotice) error {
	return s.send(ctx, KindFunding, n)
}

func (s *LogSender) send(ctx context.Context, kind Kind, n GrantNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(n.RecipientEmail) == "" {
		return ErrNoRecipient
	}
	s.Logger.Printf("[notify] %s from=%s to=%s subject=%q", kind, s.From, n.RecipientEmail, Subject(kind, n))
	if s.Verbose {
		s.Logger.Printf("[notify] body:\n%s", Body(kind, n))
	}
	return nil
}
