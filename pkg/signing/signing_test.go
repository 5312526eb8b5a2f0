package signing

import (
	"strings"
	"testing"
)

func TestSignVerify_Roundtrip(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		message string
	}{
		{"short text", "s3cret", "hello"},
		{"json payload", "s3cret", `{"userId":"u1","channel":"api","text":"hi"}`},
		{"empty message", "s3cret", ""},
		{"unicode", "s3cret", "héllo wörld ✓"},
		{"long secret", strings.Repeat("k", 64), "payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Sign([]byte(tt.secret), []byte(tt.message))
			if len(sig) != 64 {
				t.Fatalf("signature length = %d, want 64 hex chars", len(sig))
			}
			if sig != strings.ToLower(sig) {
				t.Errorf("signature not lowercase: %q", sig)
			}
			if !Verify([]byte(tt.secret), []byte(tt.message), sig) {
				t.Errorf("Verify rejected its own signature")
			}
		})
	}
}

func TestSign_Deterministic(t *testing.T) {
	secret := []byte("secret")
	msg := []byte("message")
	if Sign(secret, msg) != Sign(secret, msg) {
		t.Error("Sign should be deterministic")
	}
}

func TestVerify_TamperedMessage(t *testing.T) {
	secret := []byte("secret")
	msg := []byte("original message")
	sig := Sign(secret, msg)

	tampered := []byte("original messagE")
	if Verify(secret, tampered, sig) {
		t.Error("Verify accepted a tampered message")
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	secret := []byte("secret")
	msg := []byte("message")
	sig := Sign(secret, msg)

	// Flip one hex digit at every position.
	for i := 0; i < len(sig); i++ {
		flipped := []byte(sig)
		if flipped[i] == 'a' {
			flipped[i] = 'b'
		} else {
			flipped[i] = 'a'
		}
		if string(flipped) == sig {
			continue
		}
		if Verify(secret, msg, string(flipped)) {
			t.Fatalf("Verify accepted signature tampered at position %d", i)
		}
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	msg := []byte("message")
	sig := Sign([]byte("secret-a"), msg)
	if Verify([]byte("secret-b"), msg, sig) {
		t.Error("Verify accepted signature from a different secret")
	}
}

func TestVerify_Rejects(t *testing.T) {
	secret := []byte("secret")
	msg := []byte("message")
	sig := Sign(secret, msg)

	tests := []struct {
		name     string
		secret   []byte
		provided string
	}{
		{"empty secret", nil, sig},
		{"empty signature", secret, ""},
		{"not hex", secret, "zz" + sig[2:]},
		{"truncated", secret, sig[:32]},
		{"too long", secret, sig + "00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.secret, msg, tt.provided) {
				t.Error("Verify accepted invalid input")
			}
		})
	}
}
