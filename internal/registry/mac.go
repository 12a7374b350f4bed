package registry

import (
	"crypto/rand"
	"fmt"
	"net"
	"strings"
)

// NormalizeMAC returns the canonical upper-case, colon separated form of
// a 48-bit MAC address.  Any notation net.ParseMAC accepts is allowed, as
// well as twelve bare hex digits.
func NormalizeMAC(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if len(s) == 12 && isHex(s) {
		s = s[0:4] + "." + s[4:8] + "." + s[8:12]
	}
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("%w: mac %q", ErrInvalidInput, raw)
	}
	return strings.ToUpper(hw.String()), nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateKeyCode returns a random license key of 24 characters from
// [A-Z0-9] grouped by four, e.g. 7QK2-M9XA-0PLD-Z3RT-B8CN-4HWE.
func GenerateKeyCode() (string, error) {
	const groups, size = 6, 4
	var b strings.Builder
	buf := make([]byte, 1)
	for g := 0; g < groups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < size; {
			if _, err := rand.Read(buf); err != nil {
				return "", fmt.Errorf("generate key: %w", err)
			}
			// 252 is the largest multiple of 36 below 256.
			if buf[0] >= 252 {
				continue
			}
			b.WriteByte(keyAlphabet[int(buf[0])%len(keyAlphabet)])
			i++
		}
	}
	return b.String(), nil
}
