package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
	"github.com/jarrod-lowe/jmap-service-mail/internal/outbound"
	"github.com/jarrod-lowe/jmap-service-mail/internal/searchindex"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockStore struct {
	createEmailFunc     func(ctx context.Context, e *email.EmailItem, extra ...types.TransactWriteItem) error
	setMailboxesFunc    func(ctx context.Context, e *email.EmailItem, mailboxIDs map[string]bool) error
	updateKeywordsFunc  func(ctx context.Context, accountID, emailID string, keywords map[string]bool, mode email.KeywordMode) (*email.EmailItem, error)
	findByMessageIDFunc func(ctx context.Context, accountID, messageID string) ([]email.MessageIDMatch, error)
}

func (m *mockStore) CreateEmail(ctx context.Context, e *email.EmailItem, extra ...types.TransactWriteItem) error {
	if m.createEmailFunc != nil {
		return m.createEmailFunc(ctx, e, extra...)
	}
	return nil
}

func (m *mockStore) SetMailboxes(ctx context.Context, e *email.EmailItem, mailboxIDs map[string]bool) error {
	if m.setMailboxesFunc != nil {
		return m.setMailboxesFunc(ctx, e, mailboxIDs)
	}
	e.MailboxIDs = mailboxIDs
	return nil
}

func (m *mockStore) UpdateKeywords(ctx context.Context, accountID, emailID string, keywords map[string]bool, mode email.KeywordMode) (*email.EmailItem, error) {
	if m.updateKeywordsFunc != nil {
		return m.updateKeywordsFunc(ctx, accountID, emailID, keywords, mode)
	}
	return &email.EmailItem{AccountID: accountID, EmailID: emailID}, nil
}

func (m *mockStore) FindByMessageID(ctx context.Context, accountID, messageID string) ([]email.MessageIDMatch, error) {
	if m.findByMessageIDFunc != nil {
		return m.findByMessageIDFunc(ctx, accountID, messageID)
	}
	return nil, nil
}

type mockUploader struct {
	uploadFunc func(ctx context.Context, accountID, contentType string, content []byte) (string, error)
}

func (m *mockUploader) Upload(ctx context.Context, accountID, contentType string, content []byte) (string, error) {
	if m.uploadFunc != nil {
		return m.uploadFunc(ctx, accountID, contentType, content)
	}
	return "blob-new", nil
}

type mockIndexer struct {
	calls []string
	err   error
}

func (m *mockIndexer) PublishIndexRequest(ctx context.Context, accountID, emailID string, action searchindex.Action) error {
	m.calls = append(m.calls, emailID+":"+string(action))
	return m.err
}

type mockSpooler struct {
	spooled []outbound.Message
	err     error
}

func (m *mockSpooler) Spool(ctx context.Context, msg outbound.Message) error {
	if m.err != nil {
		return m.err
	}
	m.spooled = append(m.spooled, msg)
	return nil
}

const replyMessage = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.net>\r\n" +
	"Subject: Re: plans\r\n" +
	"Message-ID: <reply-1@example.com>\r\n" +
	"In-Reply-To: <orig-1@example.net>\r\n" +
	"References: <root-1@example.net> <orig-1@example.net>\r\n" +
	"Date: Sat, 20 Jan 2024 10:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Sounds good.\r\n"

func newTestAppender(store Store, uploader Uploader, indexer searchindex.Publisher) *Appender {
	a := NewAppender(store, uploader, indexer, "test-table", discard)
	a.now = func() time.Time { return time.Date(2024, 1, 20, 10, 0, 5, 0, time.UTC) }
	n := 0
	a.newID = func() string {
		n++
		return "id-" + string(rune('0'+n))
	}
	return a
}

func TestAppend_StoresMessage(t *testing.T) {
	var created *email.EmailItem
	var extras []types.TransactWriteItem
	var uploadedType string
	store := &mockStore{
		createEmailFunc: func(ctx context.Context, e *email.EmailItem, extra ...types.TransactWriteItem) error {
			created = e
			extras = extra
			return nil
		},
	}
	uploader := &mockUploader{
		uploadFunc: func(ctx context.Context, accountID, contentType string, content []byte) (string, error) {
			uploadedType = contentType
			return "blob-abc", nil
		},
	}
	indexer := &mockIndexer{}

	item, err := newTestAppender(store, uploader, indexer).Append(context.Background(), AppendRequest{
		AccountID:   "user-123",
		MailboxIDs:  []string{"drafts"},
		Keywords:    map[string]bool{"$draft": true},
		Raw:         []byte(replyMessage),
		Bcc:         []email.EmailAddress{{Email: "hidden@example.org"}},
		Attachments: []email.Attachment{{BlobID: "att-1", Type: "image/png", Size: 10}},
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if uploadedType != "message/rfc822" {
		t.Errorf("upload type = %q, want message/rfc822", uploadedType)
	}
	if created == nil || created != item {
		t.Fatal("CreateEmail not called with the returned item")
	}
	if item.BlobID != "blob-abc" {
		t.Errorf("BlobID = %q, want blob-abc", item.BlobID)
	}
	if item.Subject != "Re: plans" {
		t.Errorf("Subject = %q", item.Subject)
	}
	if !item.MailboxIDs["drafts"] || len(item.MailboxIDs) != 1 {
		t.Errorf("MailboxIDs = %v", item.MailboxIDs)
	}
	if !item.Keywords["$draft"] {
		t.Errorf("Keywords = %v", item.Keywords)
	}
	if item.Size != int64(len(replyMessage)) {
		t.Errorf("Size = %d, want %d", item.Size, len(replyMessage))
	}
	if len(item.Bcc) != 1 || item.Bcc[0].Email != "hidden@example.org" {
		t.Errorf("Bcc = %v", item.Bcc)
	}
	if !item.HasAttachment {
		t.Error("HasAttachment = false, want true")
	}
	if len(extras) != 1 {
		t.Errorf("extra transact items = %d, want 1", len(extras))
	}
	if !item.ReceivedAt.Equal(time.Date(2024, 1, 20, 10, 0, 5, 0, time.UTC)) {
		t.Errorf("ReceivedAt = %v", item.ReceivedAt)
	}
	if len(indexer.calls) != 1 || indexer.calls[0] != item.EmailID+":index" {
		t.Errorf("index calls = %v", indexer.calls)
	}
}

func TestAppend_ThreadFromReferences(t *testing.T) {
	var looked []string
	store := &mockStore{
		findByMessageIDFunc: func(ctx context.Context, accountID, messageID string) ([]email.MessageIDMatch, error) {
			looked = append(looked, messageID)
			if messageID == "orig-1@example.net" {
				return []email.MessageIDMatch{{EmailID: "e-orig", ThreadID: "thread-orig"}}, nil
			}
			return nil, nil
		},
	}

	item, err := newTestAppender(store, &mockUploader{}, nil).Append(context.Background(), AppendRequest{
		AccountID:  "user-123",
		MailboxIDs: []string{"inbox"},
		Raw:        []byte(replyMessage),
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if item.ThreadID != "thread-orig" {
		t.Errorf("ThreadID = %q, want thread-orig", item.ThreadID)
	}
	if len(looked) == 0 || looked[0] != "root-1@example.net" {
		t.Errorf("lookups = %v, want References first", looked)
	}
}

func TestAppend_NewThread(t *testing.T) {
	item, err := newTestAppender(&mockStore{}, &mockUploader{}, nil).Append(context.Background(), AppendRequest{
		AccountID:  "user-123",
		MailboxIDs: []string{"inbox"},
		Raw:        []byte(replyMessage),
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if item.ThreadID == "" || item.ThreadID == item.EmailID {
		t.Errorf("ThreadID = %q, EmailID = %q", item.ThreadID, item.EmailID)
	}
}

func TestAppend_SecondaryMailboxes(t *testing.T) {
	var primary map[string]bool
	var all map[string]bool
	store := &mockStore{
		createEmailFunc: func(ctx context.Context, e *email.EmailItem, extra ...types.TransactWriteItem) error {
			primary = e.MailboxIDs
			return nil
		},
		setMailboxesFunc: func(ctx context.Context, e *email.EmailItem, mailboxIDs map[string]bool) error {
			all = mailboxIDs
			return nil
		},
	}

	_, err := newTestAppender(store, &mockUploader{}, nil).Append(context.Background(), AppendRequest{
		AccountID:  "user-123",
		MailboxIDs: []string{"mb-a", "mb-b", "mb-c"},
		Raw:        []byte(replyMessage),
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(primary) != 1 || !primary["mb-a"] {
		t.Errorf("created in %v, want only mb-a", primary)
	}
	if len(all) != 3 {
		t.Errorf("SetMailboxes = %v, want 3 mailboxes", all)
	}
}

func TestAppend_SecondaryMailboxFailureReturnsItem(t *testing.T) {
	store := &mockStore{
		setMailboxesFunc: func(ctx context.Context, e *email.EmailItem, mailboxIDs map[string]bool) error {
			return email.ErrVersionConflict
		},
	}
	item, err := newTestAppender(store, &mockUploader{}, nil).Append(context.Background(), AppendRequest{
		AccountID:  "user-123",
		MailboxIDs: []string{"mb-a", "mb-b"},
		Raw:        []byte(replyMessage),
	})
	if !errors.Is(err, email.ErrVersionConflict) {
		t.Errorf("Append() error = %v, want ErrVersionConflict", err)
	}
	if item == nil {
		t.Error("Append() item = nil, want the stored item")
	}
}

func TestAppend_Errors(t *testing.T) {
	tests := []struct {
		name     string
		req      AppendRequest
		store    *mockStore
		uploader *mockUploader
		wantErr  error
	}{
		{
			name:     "no mailbox",
			req:      AppendRequest{AccountID: "a", Raw: []byte(replyMessage)},
			store:    &mockStore{},
			uploader: &mockUploader{},
			wantErr:  ErrNoMailbox,
		},
		{
			name:  "upload failure",
			req:   AppendRequest{AccountID: "a", MailboxIDs: []string{"inbox"}, Raw: []byte(replyMessage)},
			store: &mockStore{},
			uploader: &mockUploader{uploadFunc: func(ctx context.Context, accountID, contentType string, content []byte) (string, error) {
				return "", errors.New("boom")
			}},
			wantErr: ErrUploadFailed,
		},
		{
			name: "create failure",
			req:  AppendRequest{AccountID: "a", MailboxIDs: []string{"inbox"}, Raw: []byte(replyMessage)},
			store: &mockStore{createEmailFunc: func(ctx context.Context, e *email.EmailItem, extra ...types.TransactWriteItem) error {
				return email.ErrTransactionFailed
			}},
			uploader: &mockUploader{},
			wantErr:  email.ErrTransactionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestAppender(tt.store, tt.uploader, nil).Append(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Append() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAppend_IndexFailureIsIgnored(t *testing.T) {
	indexer := &mockIndexer{err: errors.New("queue down")}
	_, err := newTestAppender(&mockStore{}, &mockUploader{}, indexer).Append(context.Background(), AppendRequest{
		AccountID:  "user-123",
		MailboxIDs: []string{"inbox"},
		Raw:        []byte(replyMessage),
	})
	if err != nil {
		t.Errorf("Append() error = %v, want nil", err)
	}
}

func draftItem() *email.EmailItem {
	return &email.EmailItem{
		AccountID:  "user-123",
		EmailID:    "email-1",
		BlobID:     "blob-1",
		MailboxIDs: map[string]bool{"outbox": true},
		Keywords:   map[string]bool{"$draft": true, "$seen": true},
		From:       []email.EmailAddress{{Name: "Alice", Email: "alice@example.com"}},
		To:         []email.EmailAddress{{Email: "bob@example.net"}},
		CC:         []email.EmailAddress{{Email: "carol@example.org"}, {Email: "bob@example.net"}},
		Bcc:        []email.EmailAddress{{Email: "dave@example.org"}},
	}
}

func TestSend_SpoolsAndMovesToSent(t *testing.T) {
	spooler := &mockSpooler{}
	var moved map[string]bool
	var removed map[string]bool
	var mode email.KeywordMode
	store := &mockStore{
		setMailboxesFunc: func(ctx context.Context, e *email.EmailItem, mailboxIDs map[string]bool) error {
			moved = mailboxIDs
			return nil
		},
		updateKeywordsFunc: func(ctx context.Context, accountID, emailID string, keywords map[string]bool, m email.KeywordMode) (*email.EmailItem, error) {
			removed, mode = keywords, m
			return &email.EmailItem{}, nil
		},
	}

	if err := NewSender(store, spooler, discard).Send(context.Background(), draftItem()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(spooler.spooled) != 1 {
		t.Fatalf("spooled %d messages, want 1", len(spooler.spooled))
	}
	msg := spooler.spooled[0]
	if msg.MailFrom != "alice@example.com" {
		t.Errorf("MailFrom = %q", msg.MailFrom)
	}
	want := "bob@example.net,carol@example.org,dave@example.org"
	if got := strings.Join(msg.RcptTo, ","); got != want {
		t.Errorf("RcptTo = %q, want %q", got, want)
	}
	if msg.BlobID != "blob-1" {
		t.Errorf("BlobID = %q", msg.BlobID)
	}
	if len(moved) != 1 || !moved["sent"] {
		t.Errorf("moved to %v, want {sent}", moved)
	}
	if !removed["$draft"] || mode != email.KeywordsRemove {
		t.Errorf("keywords %v mode %v, want $draft removed", removed, mode)
	}
}

func TestSend_SpoolFailure(t *testing.T) {
	moved := false
	store := &mockStore{
		setMailboxesFunc: func(ctx context.Context, e *email.EmailItem, mailboxIDs map[string]bool) error {
			moved = true
			return nil
		},
	}
	spoolErr := errors.New("queue down")
	err := NewSender(store, &mockSpooler{err: spoolErr}, discard).Send(context.Background(), draftItem())
	if !errors.Is(err, spoolErr) {
		t.Errorf("Send() error = %v, want %v", err, spoolErr)
	}
	if moved {
		t.Error("message moved to Sent after a spool failure")
	}
}

func TestSend_MoveFailureIsNotReturned(t *testing.T) {
	store := &mockStore{
		setMailboxesFunc: func(ctx context.Context, e *email.EmailItem, mailboxIDs map[string]bool) error {
			return email.ErrTransactionFailed
		},
	}
	spooler := &mockSpooler{}
	if err := NewSender(store, spooler, discard).Send(context.Background(), draftItem()); err != nil {
		t.Errorf("Send() error = %v, want nil", err)
	}
	if len(spooler.spooled) != 1 {
		t.Errorf("spooled %d messages, want 1", len(spooler.spooled))
	}
}

func TestEnvelope_Errors(t *testing.T) {
	noFrom := draftItem()
	noFrom.From = nil
	if _, err := Envelope(noFrom); !errors.Is(err, ErrNoSender) {
		t.Errorf("Envelope(no from) error = %v, want ErrNoSender", err)
	}

	noRcpt := draftItem()
	noRcpt.To, noRcpt.CC, noRcpt.Bcc = nil, nil, nil
	if _, err := Envelope(noRcpt); !errors.Is(err, outbound.ErrNoRecipients) {
		t.Errorf("Envelope(no rcpt) error = %v, want ErrNoRecipients", err)
	}
}

func TestReferenceUpdater_Update(t *testing.T) {
	tests := []struct {
		name      string
		parsed    *email.ParsedEmail
		matches   map[string][]email.MessageIDMatch
		wantFlags map[string]string
	}{
		{
			name:      "reply flags answered",
			parsed:    &email.ParsedEmail{InReplyTo: []string{"orig@x"}},
			matches:   map[string][]email.MessageIDMatch{"orig@x": {{EmailID: "e-1"}}},
			wantFlags: map[string]string{"e-1": email.KeywordAnswered},
		},
		{
			name:      "forward flags forwarded",
			parsed:    &email.ParsedEmail{ForwardedMessageID: []string{"fwd@x"}},
			matches:   map[string][]email.MessageIDMatch{"fwd@x": {{EmailID: "e-2"}}},
			wantFlags: map[string]string{"e-2": email.KeywordForwarded},
		},
		{
			name:      "no match is ignored",
			parsed:    &email.ParsedEmail{InReplyTo: []string{"missing@x"}},
			wantFlags: map[string]string{},
		},
		{
			name:   "ambiguous match is ignored",
			parsed: &email.ParsedEmail{InReplyTo: []string{"dup@x"}},
			matches: map[string][]email.MessageIDMatch{
				"dup@x": {{EmailID: "e-3"}, {EmailID: "e-4"}},
			},
			wantFlags: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := map[string]string{}
			store := &mockStore{
				findByMessageIDFunc: func(ctx context.Context, accountID, messageID string) ([]email.MessageIDMatch, error) {
					return tt.matches[messageID], nil
				},
				updateKeywordsFunc: func(ctx context.Context, accountID, emailID string, keywords map[string]bool, mode email.KeywordMode) (*email.EmailItem, error) {
					if mode != email.KeywordsAdd {
						t.Errorf("mode = %v, want KeywordsAdd", mode)
					}
					for k := range keywords {
						flags[emailID] = k
					}
					return &email.EmailItem{}, nil
				},
			}

			NewReferenceUpdater(store, discard).Update(context.Background(), "user-123", tt.parsed)

			if len(flags) != len(tt.wantFlags) {
				t.Fatalf("flags = %v, want %v", flags, tt.wantFlags)
			}
			for id, kw := range tt.wantFlags {
				if flags[id] != kw {
					t.Errorf("flag on %s = %q, want %q", id, flags[id], kw)
				}
			}
		})
	}
}

func TestReferenceUpdater_LookupErrorIsLogged(t *testing.T) {
	store := &mockStore{
		findByMessageIDFunc: func(ctx context.Context, accountID, messageID string) ([]email.MessageIDMatch, error) {
			return nil, errors.New("dynamo down")
		},
		updateKeywordsFunc: func(ctx context.Context, accountID, emailID string, keywords map[string]bool, mode email.KeywordMode) (*email.EmailItem, error) {
			t.Error("UpdateKeywords called after a lookup failure")
			return nil, nil
		},
	}
	NewReferenceUpdater(store, discard).Update(context.Background(), "user-123", &email.ParsedEmail{InReplyTo: []string{"x@y"}})
}
