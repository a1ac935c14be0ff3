// Package service implements the run task pipeline on top of ports: webhook
// ingress, event forwarding, verification, fulfillment and callbacks.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/Strob0t/runtask-analyzer/internal/config"
	"github.com/Strob0t/runtask-analyzer/internal/domain"
	"github.com/Strob0t/runtask-analyzer/internal/logger"
	"github.com/Strob0t/runtask-analyzer/internal/port/secretstore"
)

// Webhook headers set by HCP Terraform and the edge proxy.
const (
	HeaderTaskSignature = "X-Tfc-Task-Signature"
	HeaderEdgeSignature = "X-Cf-Sig"
)

// constantTimeEqual compares signatures. It must stay a constant-time primitive.
var constantTimeEqual = hmac.Equal

// RejectReason names why the signature gate refused a webhook.
type RejectReason string

const (
	RejectMissingBody            RejectReason = "MissingBody"
	RejectUnsupportedContentType RejectReason = "UnsupportedContentType"
	RejectMalformedForm          RejectReason = "MalformedForm"
	RejectInvalidJSON            RejectReason = "InvalidJSON"
	RejectInvalidEdgeSignature   RejectReason = "InvalidEdgeSignature"
	RejectInvalidSignature       RejectReason = "InvalidSignature"
	RejectInternal               RejectReason = "Internal"
)

// rejectBodies are the response bodies returned to the webhook caller.
var rejectBodies = map[RejectReason]string{
	RejectMissingBody:            "Missing event body",
	RejectUnsupportedContentType: "Unsupported content-type",
	RejectMalformedForm:          "Invalid urlencoded payload",
	RejectInvalidJSON:            "Invalid JSON payload",
	RejectInvalidEdgeSignature:   "Invalid CloudFront Signature",
	RejectInvalidSignature:       "Invalid Payload Signature",
	RejectInternal:               "Internal Server Error",
}

// Rejection is returned by SignatureGate.Verify for every refused webhook.
type Rejection struct {
	Reason RejectReason
	Status int
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("webhook rejected (%s): %v", r.Reason, r.Err)
	}
	return "webhook rejected (" + string(r.Reason) + ")"
}

func (r *Rejection) Unwrap() error { return r.Err }

// Body returns the text sent back to the caller.
func (r *Rejection) Body() string {
	return rejectBodies[r.Reason]
}

func malformed(reason RejectReason, msg string) *Rejection {
	return &Rejection{
		Reason: reason,
		Status: http.StatusBadRequest,
		Err:    fmt.Errorf("%w: %s", domain.ErrMalformedInput, msg),
	}
}

func unauthorized(reason RejectReason, cause error) *Rejection {
	err := domain.ErrAuthFailure
	if cause != nil {
		err = fmt.Errorf("%w: %w", domain.ErrAuthFailure, cause)
	}
	return &Rejection{Reason: reason, Status: http.StatusUnauthorized, Err: err}
}

// InboundWebhook is one raw webhook delivery. It lives only for the duration of Verify.
type InboundWebhook struct {
	Body            []byte
	Headers         http.Header
	IsBase64Encoded bool
}

// VerifiedPayload is the JSON run task request extracted from an authenticated webhook.
type VerifiedPayload struct {
	JSON json.RawMessage
}

// SignatureGate authenticates inbound run task webhooks before any business logic runs.
type SignatureGate struct {
	secrets       secretstore.Fetcher
	hmacSecretID  string
	useEdgeSecret bool
	edgeSecretID  string
}

// NewSignatureGate creates a gate reading its keys through secrets.
func NewSignatureGate(secrets secretstore.Fetcher, cfg config.HCP) *SignatureGate {
	return &SignatureGate{
		secrets:       secrets,
		hmacSecretID:  cfg.HMACSecretID,
		useEdgeSecret: cfg.UseEdgeSecret,
		edgeSecretID:  cfg.EdgeSecretID,
	}
}

// Verify checks body shape, the optional edge proxy header and the HMAC-SHA512
// signature. Every failure is a *Rejection carrying the HTTP status to return.
func (g *SignatureGate) Verify(ctx context.Context, in InboundWebhook) (VerifiedPayload, error) {
	raw, rej := decodeBody(in)
	if rej != nil {
		return VerifiedPayload{}, g.reject(ctx, in, rej)
	}

	payload, rej := extractJSON(in.Headers, raw)
	if rej != nil {
		return VerifiedPayload{}, g.reject(ctx, in, rej)
	}

	if g.useEdgeSecret {
		if rej := g.checkEdgeSignature(ctx, in.Headers); rej != nil {
			return VerifiedPayload{}, g.reject(ctx, in, rej)
		}
	}

	secret, err := g.secrets.FetchSecret(ctx, g.hmacSecretID)
	if err != nil {
		return VerifiedPayload{}, g.reject(ctx, in, &Rejection{
			Reason: RejectInternal,
			Status: http.StatusInternalServerError,
			Err:    fmt.Errorf("fetch hmac secret: %w", err),
		})
	}
	computed := ComputeSignature(secret, raw)
	if !constantTimeEqual([]byte(in.Headers.Get(HeaderTaskSignature)), []byte(computed)) {
		return VerifiedPayload{}, g.reject(ctx, in, unauthorized(RejectInvalidSignature, nil))
	}

	return VerifiedPayload{JSON: json.RawMessage(payload)}, nil
}

func (g *SignatureGate) checkEdgeSignature(ctx context.Context, h http.Header) *Rejection {
	secret, err := g.secrets.FetchSecret(ctx, g.edgeSecretID)
	if err != nil {
		slog.ErrorContext(ctx, "unable to validate edge signature header", "error", err)
		return unauthorized(RejectInvalidEdgeSignature, err)
	}
	got := h.Get(HeaderEdgeSignature)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		return unauthorized(RejectInvalidEdgeSignature, nil)
	}
	return nil
}

func (g *SignatureGate) reject(ctx context.Context, in InboundWebhook, rej *Rejection) *Rejection {
	level := slog.LevelWarn
	if rej.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "webhook rejected",
		"reason", rej.Reason,
		"status", rej.Status,
		"error", rej.Err,
		"headers", logger.RedactHeaders(in.Headers),
	)
	return rej
}

// ComputeSignature returns the hex HMAC-SHA512 of payload keyed by secret.
func ComputeSignature(secret string, payload []byte) string {
	m := hmac.New(sha512.New, []byte(secret))
	m.Write(payload)
	return hex.EncodeToString(m.Sum(nil))
}

func decodeBody(in InboundWebhook) ([]byte, *Rejection) {
	if len(in.Body) == 0 {
		return nil, malformed(RejectMissingBody, "missing event body")
	}
	if !in.IsBase64Encoded {
		return in.Body, nil
	}
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(in.Body)))
	n, err := base64.StdEncoding.Decode(raw, in.Body)
	if err != nil {
		return nil, malformed(RejectMissingBody, "body is not valid base64")
	}
	return raw[:n], nil
}

// extractJSON applies the content-type rules and returns the JSON document text.
func extractJSON(h http.Header, raw []byte) ([]byte, *Rejection) {
	ct := h.Get("Content-Type")
	if ct == "" {
		return nil, malformed(RejectUnsupportedContentType, "missing content-type")
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, malformed(RejectUnsupportedContentType, err.Error())
	}

	payload := raw
	switch mediaType {
	case "application/json":
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, malformed(RejectMalformedForm, err.Error())
		}
		values := form["payload"]
		if len(values) != 1 {
			return nil, malformed(RejectMalformedForm, fmt.Sprintf("expected one payload field, got %d", len(values)))
		}
		payload = []byte(values[0])
	default:
		return nil, malformed(RejectUnsupportedContentType, mediaType)
	}

	if !json.Valid(payload) {
		return nil, malformed(RejectInvalidJSON, "payload is not JSON")
	}
	return payload, nil
}

// AsRejection unwraps err into a *Rejection, if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
