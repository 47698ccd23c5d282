package security

import (
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sealed, err := EncryptString("api-secret-123")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if sealed == "api-secret-123" {
		t.Fatal("ciphertext must not equal plaintext")
	}

	opened, err := DecryptString(sealed)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if opened != "api-secret-123" {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestEncryptStringUniqueCiphertexts(t *testing.T) {
	a, err := EncryptString("same")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	b, err := EncryptString("same")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if a == b {
		t.Fatal("each seal must use a fresh salt and nonce")
	}
}

func TestDecryptStringRejectsGarbage(t *testing.T) {
	if _, err := DecryptString("not-base64!!"); !errors.Is(err, ErrMalformedCiphertext) {
		t.Fatalf("expected ErrMalformedCiphertext, got %v", err)
	}
	if _, err := DecryptString("c2hvcnQ="); !errors.Is(err, ErrMalformedCiphertext) {
		t.Fatalf("short payloads must be rejected, got %v", err)
	}

	sealed, err := EncryptString("secret")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	t.Setenv("EXCHANGE_CREDENTIALS_KEY", "another-key-entirely")
	if _, err := DecryptString(sealed); err == nil {
		t.Fatal("wrong key must fail to open")
	}
}
