package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"strings"
	"testing"
)

type nopWriteCloser struct {
	io.Writer
	closeErr error
}

func (n nopWriteCloser) Close() error { return n.closeErr }

type fakeSMTP struct {
	log       []string
	data      bytes.Buffer
	startTLS  bool
	rcptErr   map[string]error
	dataClose error
}

func (f *fakeSMTP) Hello(localName string) error {
	f.log = append(f.log, "HELO "+localName)
	return nil
}

func (f *fakeSMTP) Extension(ext string) (bool, string) {
	return ext == "STARTTLS" && f.startTLS, ""
}

func (f *fakeSMTP) StartTLS(config *tls.Config) error {
	f.log = append(f.log, "STARTTLS "+config.ServerName)
	return nil
}

func (f *fakeSMTP) Mail(from string) error {
	f.log = append(f.log, "MAIL "+from)
	return nil
}

func (f *fakeSMTP) Rcpt(to string) error {
	f.log = append(f.log, "RCPT "+to)
	return f.rcptErr[to]
}

func (f *fakeSMTP) Data() (io.WriteCloser, error) {
	f.log = append(f.log, "DATA")
	return nopWriteCloser{Writer: &f.data, closeErr: f.dataClose}, nil
}

func (f *fakeSMTP) Quit() error {
	f.log = append(f.log, "QUIT")
	return nil
}

func (f *fakeSMTP) Close() error { return nil }

func newTestRelay(cfg RelayConfig, fake *fakeSMTP, gotAddr *string) *Relay {
	r := NewRelay(cfg)
	r.dial = func(ctx context.Context, addr, host string) (SMTPClient, error) {
		if gotAddr != nil {
			*gotAddr = addr
		}
		return fake, nil
	}
	return r
}

func TestRelay_Send(t *testing.T) {
	fake := &fakeSMTP{startTLS: true}
	var addr string
	r := newTestRelay(RelayConfig{Host: "smtp.example.com", Port: 587, Helo: "mail.example.com", StartTLS: true}, fake, &addr)

	err := r.Send(context.Background(), "alice@example.com", []string{"bob@example.net", "carol@example.org"}, []byte(testMessage))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if addr != "smtp.example.com:587" {
		t.Errorf("addr = %q", addr)
	}
	want := "HELO mail.example.com|STARTTLS smtp.example.com|MAIL alice@example.com|RCPT bob@example.net|RCPT carol@example.org|DATA|QUIT"
	if got := strings.Join(fake.log, "|"); got != want {
		t.Errorf("session = %s\nwant %s", got, want)
	}
	if fake.data.String() != testMessage {
		t.Errorf("data = %q", fake.data.String())
	}
}

func TestRelay_Failures(t *testing.T) {
	tests := []struct {
		name string
		cfg  RelayConfig
		fake *fakeSMTP
		to   []string
	}{
		{"no recipients", RelayConfig{Host: "h", Port: 25}, &fakeSMTP{}, nil},
		{"starttls unavailable", RelayConfig{Host: "h", Port: 25, StartTLS: true}, &fakeSMTP{}, []string{"x@y"}},
		{"recipient refused", RelayConfig{Host: "h", Port: 25}, &fakeSMTP{rcptErr: map[string]error{"x@y": errors.New("550")}}, []string{"x@y"}},
		{"data refused", RelayConfig{Host: "h", Port: 25}, &fakeSMTP{dataClose: errors.New("554")}, []string{"x@y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRelay(tt.cfg, tt.fake, nil)
			if err := r.Send(context.Background(), "a@b", tt.to, []byte("x")); err == nil {
				t.Error("Send() error = nil")
			}
		})
	}
}

func TestRelay_DialError(t *testing.T) {
	r := NewRelay(RelayConfig{Host: "h", Port: 25})
	r.dial = func(ctx context.Context, addr, host string) (SMTPClient, error) {
		return nil, errors.New("connection refused")
	}
	if err := r.Send(context.Background(), "a@b", []string{"c@d"}, nil); err == nil || !strings.Contains(err.Error(), "h:25") {
		t.Errorf("Send() error = %v", err)
	}
}
