package breakglass

import (
	"crypto/rand"
	"io"
	"math/big"

	"github.com/pkg/errors"
)

const (
	codeLength   = 32
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*-_=+"
)

var (
	randReader  io.Reader = rand.Reader
	codeGenFunc           = GenerateSecureCode // mockable
)

// GenerateSecureCode returns codeLength characters drawn uniformly from codeAlphabet.
func GenerateSecureCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(randReader, max)
		if err != nil {
			return "", errors.Wrap(err, "reading random source")
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
