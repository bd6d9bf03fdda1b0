package email

import (
	"testing"
	"time"
)

func TestEmailItem_Keys(t *testing.T) {
	email := EmailItem{
		AccountID: "user-123",
		EmailID:   "email-456",
	}

	if pk := email.PK(); pk != "ACCOUNT#user-123" {
		t.Errorf("PK() = %q, want %q", pk, "ACCOUNT#user-123")
	}
	if sk := email.SK(); sk != "EMAIL#email-456" {
		t.Errorf("SK() = %q, want %q", sk, "EMAIL#email-456")
	}
}

func TestMailboxMembershipItem_Keys(t *testing.T) {
	membership := MailboxMembershipItem{
		AccountID:  "user-123",
		MailboxID:  "inbox-789",
		ReceivedAt: time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC),
		EmailID:    "email-456",
	}

	expectedSK := "MBOX#inbox-789#EMAIL#2024-01-20T10:00:00Z#email-456"
	if sk := membership.SK(); sk != expectedSK {
		t.Errorf("SK() = %q, want %q", sk, expectedSK)
	}
}

func TestMailboxMembershipItem_SortKeyOrdering(t *testing.T) {
	early := MailboxMembershipItem{AccountID: "u", MailboxID: "inbox", ReceivedAt: time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC), EmailID: "email-1"}
	late := MailboxMembershipItem{AccountID: "u", MailboxID: "inbox", ReceivedAt: time.Date(2024, 1, 20, 11, 0, 0, 0, time.UTC), EmailID: "email-2"}
	sameTime := MailboxMembershipItem{AccountID: "u", MailboxID: "inbox", ReceivedAt: early.ReceivedAt, EmailID: "email-3"}

	if early.SK() >= late.SK() {
		t.Errorf("Expected %q < %q", early.SK(), late.SK())
	}
	if early.SK() == sameTime.SK() {
		t.Errorf("Expected distinct sort keys, both are %q", early.SK())
	}
}

func TestMessageIDSK(t *testing.T) {
	if got := MessageIDSK("abc@example.com", "e1"); got != "MSGID#abc@example.com#e1" {
		t.Errorf("MessageIDSK = %q", got)
	}
	if got := AttachmentSK("b1"); got != "ATTACHMENT#b1" {
		t.Errorf("AttachmentSK = %q", got)
	}
}

func TestEmailItem_HasKeyword(t *testing.T) {
	e := EmailItem{Keywords: map[string]bool{"$draft": true}}
	if !e.HasKeyword("$Draft") {
		t.Error("HasKeyword($Draft) = false")
	}
	if e.HasKeyword("$seen") {
		t.Error("HasKeyword($seen) = true")
	}
}

func TestEmailItem_Recipients(t *testing.T) {
	e := EmailItem{
		To:  []EmailAddress{{Email: "a@example.com"}, {Email: "b@example.com"}},
		CC:  []EmailAddress{{Email: "a@example.com"}},
		Bcc: []EmailAddress{{Email: "c@example.com"}},
	}

	got := e.Recipients()
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if len(got) != len(want) {
		t.Fatalf("Recipients() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Recipients()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
