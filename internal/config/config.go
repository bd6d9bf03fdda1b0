// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Defaults applied when the environment does not set a value.
const (
	DefaultMaxMessageSize        = 10 * 1024 * 1024
	DefaultMaxMailboxNameLength  = 255
	DefaultEntryConcurrency      = 4
	DefaultAttachmentConcurrency = 8
	DefaultStateTTLDays          = 7
	DefaultSMTPPort              = 587
)

// ErrMissing is returned when a required setting is empty.
var ErrMissing = errors.New("missing required configuration")

// Config is the configuration shared by all binaries. Each binary requires
// only the settings it uses.
type Config struct {
	TableName  string `mapstructure:"email_table_name"`
	CoreAPIURL string `mapstructure:"core_api_url"`

	OutboundQueueURL       string `mapstructure:"outbound_queue_url"`
	BlobDeleteQueueURL     string `mapstructure:"blob_delete_queue_url"`
	MailboxCleanupQueueURL string `mapstructure:"mailbox_cleanup_queue_url"`
	SearchIndexQueueURL    string `mapstructure:"search_index_queue_url"`

	MaxMessageSize        int64 `mapstructure:"max_message_size"`
	MaxMailboxNameLength  int   `mapstructure:"max_mailbox_name_length"`
	EntryConcurrency      int   `mapstructure:"entry_concurrency"`
	AttachmentConcurrency int   `mapstructure:"attachment_concurrency"`
	StateTTLDays          int   `mapstructure:"state_ttl_days"`

	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPHelo     string `mapstructure:"smtp_helo"`
	SMTPStartTLS bool   `mapstructure:"smtp_starttls"`

	DKIMDomain     string `mapstructure:"dkim_domain"`
	DKIMSelector   string `mapstructure:"dkim_selector"`
	DKIMPrivateKey string `mapstructure:"dkim_private_key"`

	// MailDomain is the domain of the addresses the service hosts. It is
	// used for generated Message-IDs and primary identities.
	MailDomain string `mapstructure:"mail_domain"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{
		"email_table_name", "core_api_url",
		"outbound_queue_url", "blob_delete_queue_url",
		"mailbox_cleanup_queue_url", "search_index_queue_url",
		"smtp_host", "smtp_helo",
		"dkim_domain", "dkim_selector", "dkim_private_key",
		"mail_domain",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("max_message_size", DefaultMaxMessageSize)
	v.SetDefault("max_mailbox_name_length", DefaultMaxMailboxNameLength)
	v.SetDefault("entry_concurrency", DefaultEntryConcurrency)
	v.SetDefault("attachment_concurrency", DefaultAttachmentConcurrency)
	v.SetDefault("state_ttl_days", DefaultStateTTLDays)
	v.SetDefault("smtp_port", DefaultSMTPPort)
	v.SetDefault("smtp_starttls", true)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.MaxMailboxNameLength <= 0 {
		cfg.MaxMailboxNameLength = DefaultMaxMailboxNameLength
	}
	if cfg.EntryConcurrency <= 0 {
		cfg.EntryConcurrency = DefaultEntryConcurrency
	}
	if cfg.AttachmentConcurrency <= 0 {
		cfg.AttachmentConcurrency = DefaultAttachmentConcurrency
	}
	if cfg.StateTTLDays <= 0 {
		cfg.StateTTLDays = DefaultStateTTLDays
	}
	return cfg, nil
}

// Require returns ErrMissing naming every empty setting among names. Names
// are the environment variable names.
func (c *Config) Require(names ...string) error {
	values := map[string]string{
		"EMAIL_TABLE_NAME":          c.TableName,
		"CORE_API_URL":              c.CoreAPIURL,
		"OUTBOUND_QUEUE_URL":        c.OutboundQueueURL,
		"BLOB_DELETE_QUEUE_URL":     c.BlobDeleteQueueURL,
		"MAILBOX_CLEANUP_QUEUE_URL": c.MailboxCleanupQueueURL,
		"SEARCH_INDEX_QUEUE_URL":    c.SearchIndexQueueURL,
		"SMTP_HOST":                 c.SMTPHost,
		"SMTP_HELO":                 c.SMTPHelo,
		"DKIM_DOMAIN":               c.DKIMDomain,
		"DKIM_SELECTOR":             c.DKIMSelector,
		"DKIM_PRIVATE_KEY":          c.DKIMPrivateKey,
		"MAIL_DOMAIN":               c.MailDomain,
	}

	var missing []string
	for _, name := range names {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}
