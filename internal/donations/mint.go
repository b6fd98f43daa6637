package donations

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// Mint derives a mark from the payer email, the mint instant, the process
// secret, and a fresh random nonce. The digest is plain sha256 hex, so a mark
// is always 64 hex characters. Pure given clock and rng, which keeps mint
// deterministic under test.
func Mint(email, secret string, now time.Time, rng io.Reader) (string, error) {
	nonce := make([]byte, 16)
	if _, err := io.ReadFull(rng, nonce); err != nil {
		return "", fmt.Errorf("read mint nonce: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(email))
	h.Write([]byte(now.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(secret))
	h.Write([]byte(hex.EncodeToString(nonce)))
	return hex.EncodeToString(h.Sum(nil)), nil
}
