// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrMalformedInput indicates a request body, content type, or event that cannot be interpreted.
var ErrMalformedInput = errors.New("malformed input")

// ErrAuthFailure indicates a signature or shared-secret mismatch.
var ErrAuthFailure = errors.New("authentication failed")

// ErrUntrustedEndpoint indicates an outbound URL whose host is not the trusted HCP Terraform host.
var ErrUntrustedEndpoint = errors.New("untrusted endpoint")

// ErrUpstream indicates a failure reported by an external dependency (event bus, HCP Terraform API).
var ErrUpstream = errors.New("upstream failure")

// ErrAnalysisDegraded marks analysis output that was replaced by a placeholder.
var ErrAnalysisDegraded = errors.New("analysis degraded")
