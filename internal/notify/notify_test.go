package notify

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLogSender_WritesSubject(t *testing.T) {
	var buf bytes.Buffer
	sender := NewLogSender("grants@example.org", log.New(&buf, "", 0))

	err := sender.SendGrantAwardNotification(context.Background(), GrantNotice{
		RecipientEmail:  "ana@example.org",
		OpportunityName: "Roof Repair Fund",
		Amount:          decimal.NewNullDecimal(decimal.NewFromInt(2500)),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "to=ana@example.org") {
		t.Fatalf("recipient missing from log: %s", out)
	}
	if !strings.Contains(out, "You have been awarded Roof Repair Fund") {
		t.Fatalf("subject missing from log: %s", out)
	}
}

func TestLogSender_RequiresRecipient(t *testing.T) {
	sender := NewLogSender("", log.New(&bytes.Buffer{}, "", 0))
	err := sender.SendGrantFundingNotification(context.Background(), GrantNotice{OpportunityName: "x"})
	if !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestBody_IncludesAmount(t *testing.T) {
	body := Body(KindFunding, GrantNotice{
		RecipientName:   "Ana",
		OpportunityName: "Roof Repair Fund",
		Amount:          decimal.NewNullDecimal(decimal.RequireFromString("1250.5")),
	})
	if !strings.HasPrefix(body, "Hi Ana,") {
		t.Fatalf("unexpected greeting: %q", body)
	}
	if !strings.Contains(body, "($1250.50)") {
		t.Fatalf("expected formatted amount, got %q", body)
	}
}
