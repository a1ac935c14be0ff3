package service_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Strob0t/runtask-analyzer/internal/config"
	"github.com/Strob0t/runtask-analyzer/internal/domain"
	"github.com/Strob0t/runtask-analyzer/internal/service"
)

const (
	testHMACKey = "hmac-secret"
	testEdgeKey = "edge-secret"
)

func newGate(useEdge bool) *service.SignatureGate {
	return service.NewSignatureGate(
		staticSecrets(map[string]string{"HMAC": testHMACKey, "EDGE": testEdgeKey}),
		config.HCP{HMACSecretID: "HMAC", UseEdgeSecret: useEdge, EdgeSecretID: "EDGE"},
	)
}

func signedWebhook(body []byte, contentType string) service.InboundWebhook {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	h.Set(service.HeaderTaskSignature, service.ComputeSignature(testHMACKey, body))
	return service.InboundWebhook{Body: body, Headers: h}
}

func TestVerifyAcceptsSignedJSON(t *testing.T) {
	body := []byte(`{"run_id":"run-1"}`)
	got, err := newGate(false).Verify(context.Background(), signedWebhook(body, "application/json; charset=utf-8"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if string(got.JSON) != string(body) {
		t.Errorf("payload = %s, want %s", got.JSON, body)
	}
}

func TestVerifyFormPayloadSignsRawBody(t *testing.T) {
	body := []byte("payload=" + url.QueryEscape(`{"run_id":"run-1"}`))
	got, err := newGate(false).Verify(context.Background(), signedWebhook(body, "application/x-www-form-urlencoded"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if string(got.JSON) != `{"run_id":"run-1"}` {
		t.Errorf("payload = %s", got.JSON)
	}
}

func TestVerifyBase64Body(t *testing.T) {
	raw := []byte(`{"run_id":"run-1"}`)
	in := signedWebhook(raw, "application/json")
	in.Body = []byte(base64.StdEncoding.EncodeToString(raw))
	in.IsBase64Encoded = true

	if _, err := newGate(false).Verify(context.Background(), in); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejections(t *testing.T) {
	good := []byte(`{"a":1}`)
	tests := []struct {
		name       string
		in         func() service.InboundWebhook
		useEdge    bool
		wantReason service.RejectReason
		wantStatus int
		wantBody   string
		wantErr    error
	}{
		{
			name:       "missing body",
			in:         func() service.InboundWebhook { return signedWebhook(nil, "application/json") },
			wantReason: service.RejectMissingBody,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Missing event body",
			wantErr:    domain.ErrMalformedInput,
		},
		{
			name:       "unsupported content type",
			in:         func() service.InboundWebhook { return signedWebhook(good, "text/plain") },
			wantReason: service.RejectUnsupportedContentType,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Unsupported content-type",
			wantErr:    domain.ErrMalformedInput,
		},
		{
			name: "form without payload",
			in: func() service.InboundWebhook {
				return signedWebhook([]byte("other=1"), "application/x-www-form-urlencoded")
			},
			wantReason: service.RejectMalformedForm,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid urlencoded payload",
			wantErr:    domain.ErrMalformedInput,
		},
		{
			name: "form with two payloads",
			in: func() service.InboundWebhook {
				return signedWebhook([]byte("payload=%7B%7D&payload=%7B%7D"), "application/x-www-form-urlencoded")
			},
			wantReason: service.RejectMalformedForm,
			wantStatus: http.StatusBadRequest,
			wantErr:    domain.ErrMalformedInput,
		},
		{
			name:       "invalid json",
			in:         func() service.InboundWebhook { return signedWebhook([]byte("{nope"), "application/json") },
			wantReason: service.RejectInvalidJSON,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid JSON payload",
			wantErr:    domain.ErrMalformedInput,
		},
		{
			name: "bad signature",
			in: func() service.InboundWebhook {
				in := signedWebhook(good, "application/json")
				in.Headers.Set(service.HeaderTaskSignature, "deadbeef")
				return in
			},
			wantReason: service.RejectInvalidSignature,
			wantStatus: http.StatusUnauthorized,
			wantBody:   "Invalid Payload Signature",
			wantErr:    domain.ErrAuthFailure,
		},
		{
			name:       "missing edge signature",
			in:         func() service.InboundWebhook { return signedWebhook(good, "application/json") },
			useEdge:    true,
			wantReason: service.RejectInvalidEdgeSignature,
			wantStatus: http.StatusUnauthorized,
			wantBody:   "Invalid CloudFront Signature",
			wantErr:    domain.ErrAuthFailure,
		},
		{
			name: "wrong edge signature",
			in: func() service.InboundWebhook {
				in := signedWebhook(good, "application/json")
				in.Headers.Set(service.HeaderEdgeSignature, "guess")
				return in
			},
			useEdge:    true,
			wantReason: service.RejectInvalidEdgeSignature,
			wantStatus: http.StatusUnauthorized,
			wantErr:    domain.ErrAuthFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newGate(tt.useEdge).Verify(context.Background(), tt.in())
			rej, ok := service.AsRejection(err)
			if !ok {
				t.Fatalf("expected *Rejection, got %v", err)
			}
			if rej.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", rej.Reason, tt.wantReason)
			}
			if rej.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", rej.Status, tt.wantStatus)
			}
			if tt.wantBody != "" && rej.Body() != tt.wantBody {
				t.Errorf("body = %q, want %q", rej.Body(), tt.wantBody)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected errors.Is(%v), got %v", tt.wantErr, err)
			}
		})
	}
}

func TestVerifyEdgeSignatureAccepted(t *testing.T) {
	in := signedWebhook([]byte(`{}`), "application/json")
	in.Headers.Set(service.HeaderEdgeSignature, testEdgeKey)
	if _, err := newGate(true).Verify(context.Background(), in); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifySecretUnavailableIsInternal(t *testing.T) {
	gate := service.NewSignatureGate(staticSecrets(nil), config.HCP{HMACSecretID: "HMAC"})
	_, err := gate.Verify(context.Background(), signedWebhook([]byte(`{}`), "application/json"))
	rej, ok := service.AsRejection(err)
	if !ok || rej.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 rejection, got %v", err)
	}
	if rej.Body() != "Internal Server Error" {
		t.Errorf("body = %q", rej.Body())
	}
}

func TestSignatureFlipProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	gate := newGate(false)

	properties.Property("signed payloads are accepted", prop.ForAll(
		func(value string) bool {
			body := []byte(`{"v":` + jsonString(value) + `}`)
			_, err := gate.Verify(context.Background(), signedWebhook(body, "application/json"))
			return err == nil
		},
		gen.AnyString(),
	))

	properties.Property("flipping one signature byte is rejected", prop.ForAll(
		func(value string, pos int) bool {
			body := []byte(`{"v":` + jsonString(value) + `}`)
			in := signedWebhook(body, "application/json")
			sig := []byte(in.Headers.Get(service.HeaderTaskSignature))
			i := pos % len(sig)
			sig[i] ^= 0x01
			in.Headers.Set(service.HeaderTaskSignature, string(sig))
			_, err := gate.Verify(context.Background(), in)
			return errors.Is(err, domain.ErrAuthFailure)
		},
		gen.AlphaString(),
		gen.IntRange(0, 1<<16),
	))

	properties.Property("flipping one body byte is rejected", prop.ForAll(
		func(value string, pos int) bool {
			body := []byte(`{"v":"` + value + `"}`)
			in := signedWebhook(body, "application/json")
			tampered := append([]byte(nil), body...)
			// Stay inside the string literal so the body remains valid JSON.
			i := 6 + pos%len(value)
			tampered[i] ^= 0x01
			in.Body = tampered
			_, err := gate.Verify(context.Background(), in)
			return errors.Is(err, domain.ErrAuthFailure)
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.IntRange(0, 1<<16),
	))

	properties.TestingRun(t)
}

func jsonString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
