package session

import (
	"crypto/rand"
	"math/big"
	"time"
)

const (
	idTimeLayout = "20060102150405"
	idSuffixLen  = 6
	idAlphabet   = "abcdefghijklmnopqrstuvwxyz"
)

// NewID returns now in UTC to the second followed by six random lowercase
// letters. Ids sort by creation second.
func NewID(now time.Time) string {
	buf := make([]byte, 0, len(idTimeLayout)+idSuffixLen)
	buf = now.UTC().AppendFormat(buf, idTimeLayout)

	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < idSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		buf = append(buf, idAlphabet[n.Int64()])
	}
	return string(buf)
}
