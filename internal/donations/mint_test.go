package donations

import (
	"bytes"
	"crypto/rand"
	"regexp"
	"testing"
	"time"
)

var markPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestMintIsDeterministicWithFixedInputs(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rng := bytes.NewReader(make([]byte, 32))

	first, err := Mint("a@x.com", "secret", now, rng)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	rng = bytes.NewReader(make([]byte, 32))
	second, err := Mint("a@x.com", "secret", now, rng)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if first != second {
		t.Fatalf("fixed clock/rng must be deterministic: %s vs %s", first, second)
	}
	if !markPattern.MatchString(first) {
		t.Fatalf("mark must be 64 hex chars, got %q", first)
	}
}

func TestMintFreshNoncePerMint(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := Mint("a@x.com", "secret", now, rand.Reader)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	second, err := Mint("a@x.com", "secret", now, rand.Reader)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if first == second {
		t.Fatal("same inputs with fresh nonces must differ")
	}
}

func TestMintSecretChangesDigest(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := Mint("a@x.com", "secret-a", now, bytes.NewReader(make([]byte, 32)))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	second, err := Mint("a@x.com", "secret-b", now, bytes.NewReader(make([]byte, 32)))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if first == second {
		t.Fatal("different secrets must yield different marks")
	}
}

func TestMintExhaustedRngFails(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := Mint("a@x.com", "secret", now, bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error when the rng cannot supply a nonce")
	}
}
