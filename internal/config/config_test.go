package config

import (
	"errors"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.MaxMailboxNameLength != 255 {
		t.Errorf("MaxMailboxNameLength = %d", cfg.MaxMailboxNameLength)
	}
	if cfg.EntryConcurrency != DefaultEntryConcurrency || cfg.AttachmentConcurrency != DefaultAttachmentConcurrency {
		t.Errorf("concurrency = %d/%d", cfg.EntryConcurrency, cfg.AttachmentConcurrency)
	}
	if cfg.StateTTLDays != 7 {
		t.Errorf("StateTTLDays = %d", cfg.StateTTLDays)
	}
	if cfg.SMTPPort != 587 || !cfg.SMTPStartTLS {
		t.Errorf("SMTP = %d/%v", cfg.SMTPPort, cfg.SMTPStartTLS)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("EMAIL_TABLE_NAME", "mail-table")
	t.Setenv("CORE_API_URL", "https://core.example.com")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("ENTRY_CONCURRENCY", "16")
	t.Setenv("SMTP_STARTTLS", "false")
	t.Setenv("SMTP_PORT", "25")
	t.Setenv("DKIM_SELECTOR", "s1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TableName != "mail-table" || cfg.CoreAPIURL != "https://core.example.com" {
		t.Errorf("TableName/CoreAPIURL = %q/%q", cfg.TableName, cfg.CoreAPIURL)
	}
	if cfg.MaxMessageSize != 2048 || cfg.EntryConcurrency != 16 {
		t.Errorf("MaxMessageSize/EntryConcurrency = %d/%d", cfg.MaxMessageSize, cfg.EntryConcurrency)
	}
	if cfg.SMTPStartTLS || cfg.SMTPPort != 25 {
		t.Errorf("SMTP = %d/%v", cfg.SMTPPort, cfg.SMTPStartTLS)
	}
	if cfg.DKIMSelector != "s1" {
		t.Errorf("DKIMSelector = %q", cfg.DKIMSelector)
	}
}

func TestLoad_NonPositiveFallsBack(t *testing.T) {
	t.Setenv("ATTACHMENT_CONCURRENCY", "0")
	t.Setenv("STATE_TTL_DAYS", "-1")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AttachmentConcurrency != DefaultAttachmentConcurrency || cfg.StateTTLDays != DefaultStateTTLDays {
		t.Errorf("AttachmentConcurrency/StateTTLDays = %d/%d", cfg.AttachmentConcurrency, cfg.StateTTLDays)
	}
}

func TestRequire(t *testing.T) {
	cfg := &Config{TableName: "t"}
	if err := cfg.Require("EMAIL_TABLE_NAME"); err != nil {
		t.Errorf("Require() error = %v", err)
	}
	err := cfg.Require("EMAIL_TABLE_NAME", "CORE_API_URL", "OUTBOUND_QUEUE_URL")
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("Require() error = %v, want ErrMissing", err)
	}
	if !strings.Contains(err.Error(), "CORE_API_URL, OUTBOUND_QUEUE_URL") {
		t.Errorf("Require() error = %q", err)
	}
}
