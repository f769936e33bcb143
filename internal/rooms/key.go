package rooms

import (
	"crypto/rand"
	"math/big"
)

const keyAlphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"

const generatedKeyLen = 8

// GenerateKey returns a random 8-character room key suitable for sharing out
// of band. The alphabet omits O/0 to keep keys unambiguous when read aloud.
func GenerateKey() (string, error) {
	buf := make([]byte, generatedKeyLen)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = keyAlphabet[n.Int64()]
	}
	return string(buf), nil
}
