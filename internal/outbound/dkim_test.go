package outbound

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
)

const testMessage = "From: alice@example.com\r\n" +
	"To: bob@example.net\r\n" +
	"Subject: hi\r\n" +
	"Date: Sat, 20 Jan 2024 10:00:00 +0000\r\n" +
	"Message-Id: <m1@example.com>\r\n" +
	"\r\n" +
	"hello\r\n"

func pemKey(t *testing.T, typ string, der []byte) string {
	t.Helper()
	return string(pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}))
}

func TestSigner_Sign(t *testing.T) {
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	edDER, err := x509.MarshalPKCS8PrivateKey(edKey)
	if err != nil {
		t.Fatal(err)
	}
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	keys := map[string]string{
		"ed25519 pkcs8": pemKey(t, "PRIVATE KEY", edDER),
		"rsa pkcs1":     pemKey(t, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rsaKey)),
	}
	for name, key := range keys {
		t.Run(name, func(t *testing.T) {
			signer, err := NewSigner("example.com", "mail", key)
			if err != nil {
				t.Fatalf("NewSigner() error = %v", err)
			}
			signed, err := signer.Sign([]byte(testMessage))
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if !bytes.HasPrefix(signed, []byte("DKIM-Signature:")) {
				t.Fatalf("signed message does not start with DKIM-Signature:\n%s", signed)
			}
			header := string(signed[:bytes.Index(signed, []byte("From:"))])
			for _, want := range []string{"d=example.com", "s=mail", "c=relaxed/relaxed"} {
				if !strings.Contains(header, want) {
					t.Errorf("signature missing %q: %s", want, header)
				}
			}
			if !bytes.HasSuffix(signed, []byte(testMessage)) {
				t.Error("original message was modified")
			}
		})
	}
}

func TestNewSigner_InvalidKey(t *testing.T) {
	tests := map[string]string{
		"not pem":  "garbage",
		"bad body": pemKey(t, "PRIVATE KEY", []byte("nope")),
	}
	for name, key := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewSigner("example.com", "mail", key); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("NewSigner() error = %v, want ErrInvalidKey", err)
			}
		})
	}
}
