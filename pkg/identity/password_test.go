package identity

import (
	"strings"
	"testing"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "correct-horse" {
		t.Fatal("Hash must not equal the plaintext")
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("Expected a bcrypt hash, got %q", hash)
	}
}

func TestHashPassword_Empty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatal("Expected error for empty password")
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if err := VerifyPassword(hash, "correct-horse"); err != nil {
		t.Errorf("Expected match, got %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Error("Expected mismatch for wrong password")
	}
	if err := VerifyPassword("", "anything"); err == nil {
		t.Error("Expected error for empty hash")
	}
}

// Two hashes of the same password differ because of the salt, but both
// verify.
func TestHashPassword_Salted(t *testing.T) {
	h1, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	h2, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if h1 == h2 {
		t.Error("Expected salted hashes to differ")
	}
	if err := VerifyPassword(h2, "correct-horse"); err != nil {
		t.Errorf("Second hash must verify: %v", err)
	}
}
