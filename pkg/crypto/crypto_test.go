package crypto

import (
	"testing"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if !VerifyPassword(hash, "secret") {
		t.Fatal("expected password verification to succeed")
	}

	if VerifyPassword(hash, "incorrect") {
		t.Fatal("expected password verification to fail")
	}
}

func TestGenerateToken(t *testing.T) {
	first, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	second, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if len(first) == 0 {
		t.Fatal("expected token to be non-empty")
	}
	if first == second {
		t.Fatal("expected tokens to differ")
	}
}

func TestSHA256HexIsDeterministic(t *testing.T) {
	a := SHA256Hex("refresh-token")
	b := SHA256Hex("refresh-token")
	c := SHA256Hex("refresh-tokem")

	if a != b {
		t.Fatal("expected identical input to produce identical digest")
	}
	if a == c {
		t.Fatal("expected different input to produce different digest")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(a))
	}
}
