package service

import (
	"crypto/hmac"
	"reflect"
	"testing"
)

func TestSignatureComparisonIsConstantTime(t *testing.T) {
	got := reflect.ValueOf(constantTimeEqual).Pointer()
	want := reflect.ValueOf(hmac.Equal).Pointer()
	if got != want {
		t.Fatal("signature comparison must use hmac.Equal")
	}
}

func TestComputeSignatureKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := ComputeSignature("Jefe", []byte("what do ya want for nothing?"))
	want := "164b7a7bfcf819e2e395fbe73b56e0a387bd64222e831fd610270cd7ea2505549758bf75c05a994a6d034f65f8f0e6fdcaeab1a34d4a6b4b636e070a38bce737"
	if got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
}
