package breakglass

import (
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealerSalt = "masomo.breakglass.promotion-code"
	nonceSize  = 24
)

var errSealedCode = errors.New("malformed sealed code")

// Sealer encrypts the display copy of a promotion code so it can be revealed again later.
type Sealer struct {
	key [32]byte
}

func NewSealer(secretKey string) *Sealer {
	return &Sealer{key: sha256.Sum256([]byte(sealerSalt + secretKey))}
}

func (s *Sealer) Seal(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(randReader, nonce[:]); err != nil {
		return "", errors.Wrap(err, "reading nonce")
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(box), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	box, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", errors.Wrap(err, "decoding sealed code")
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return "", errSealedCode
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", errSealedCode
	}
	return string(plain), nil
}
