package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func SHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Definition hashes a textual node definition. Line endings and trailing
// blanks are normalised so re-saving a file on another platform is not drift.
func Definition(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return SHA256([]byte(strings.TrimRight(strings.Join(lines, "\n"), "\n")))
}
