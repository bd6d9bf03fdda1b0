package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

type fakeRoundTripper struct {
	roundTripFunc func(req *http.Request) (*http.Response, error)
}

func (f *fakeRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.roundTripFunc != nil {
		return f.roundTripFunc(req)
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

type fakeCredentialsProvider struct {
	err error
}

func (f *fakeCredentialsProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	if f.err != nil {
		return aws.Credentials{}, f.err
	}
	return aws.Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		SessionToken:    "session",
	}, nil
}

func captureTransport(captured **http.Request, body *string) *fakeRoundTripper {
	return &fakeRoundTripper{roundTripFunc: func(req *http.Request) (*http.Response, error) {
		*captured = req
		if body != nil && req.Body != nil {
			b, _ := io.ReadAll(req.Body)
			*body = string(b)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}}
}

func TestSigV4Transport_SignsRequest(t *testing.T) {
	var got *http.Request
	transport := NewSigV4Transport(captureTransport(&got, nil), &fakeCredentialsProvider{}, "ap-southeast-2")
	transport.now = func() time.Time { return time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC) }

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/download-iam/user-123/blob-1", nil)
	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}

	auth := got.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256") {
		t.Errorf("Authorization = %q", auth)
	}
	if !strings.Contains(auth, "20240120/ap-southeast-2/execute-api/aws4_request") {
		t.Errorf("Authorization scope = %q", auth)
	}
	if got.Header.Get("X-Amz-Date") != "20240120T100000Z" {
		t.Errorf("X-Amz-Date = %q", got.Header.Get("X-Amz-Date"))
	}
	if got.Header.Get("X-Amz-Security-Token") != "session" {
		t.Errorf("X-Amz-Security-Token = %q", got.Header.Get("X-Amz-Security-Token"))
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("original request was modified")
	}
}

func TestSigV4Transport_BodyIsForwarded(t *testing.T) {
	var got *http.Request
	var body string
	transport := NewSigV4Transport(captureTransport(&got, &body), &fakeCredentialsProvider{}, "us-east-1")

	req, _ := http.NewRequest(http.MethodPost, "https://api.example.com/jmap-iam/user-123", strings.NewReader(`{"a":1}`))
	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if body != `{"a":1}` {
		t.Errorf("forwarded body = %q", body)
	}
	if got.ContentLength != 7 {
		t.Errorf("ContentLength = %d", got.ContentLength)
	}
}

func TestSigV4Transport_CredentialError(t *testing.T) {
	called := false
	rt := &fakeRoundTripper{roundTripFunc: func(req *http.Request) (*http.Response, error) {
		called = true
		return nil, nil
	}}
	wantErr := errors.New("no credentials")
	transport := NewSigV4Transport(rt, &fakeCredentialsProvider{err: wantErr}, "us-east-1")

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/", nil)
	if _, err := transport.RoundTrip(req); !errors.Is(err, wantErr) {
		t.Errorf("RoundTrip() error = %v, want %v", err, wantErr)
	}
	if called {
		t.Error("wrapped transport called without credentials")
	}
}

func TestHashBody_Empty(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/", nil)
	got, err := hashBody(req)
	if err != nil {
		t.Fatal(err)
	}
	if got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("hashBody() = %q", got)
	}
}
