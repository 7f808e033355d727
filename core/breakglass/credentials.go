package breakglass

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-breakglass/core"
)

var errInvalidSessionState = core.NewInvalidStateError("invalid session state")

// CredentialStore hashes and verifies the break-glass codes.
type CredentialStore struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

func NewCredentialStore(cost int) *CredentialStore {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &CredentialStore{cost: cost}
}

func (cs *CredentialStore) Hash(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cs.cost)
	if err != nil {
		return "", errors.Wrap(err, "hashing code")
	}
	return string(hash), nil
}

// Verify reports whether secret matches hash. A hash that bcrypt cannot parse is an invalid session state.
func (cs *CredentialStore) Verify(secret, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case err == bcrypt.ErrMismatchedHashAndPassword:
		return false, nil
	default:
		return false, errInvalidSessionState
	}
}

// Burn spends the time of a real verification without a stored hash to compare to.
func (cs *CredentialStore) Burn(secret string) {
	cs.dummyOnce.Do(func() {
		cs.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("break-glass"), cs.cost)
	})
	_ = bcrypt.CompareHashAndPassword(cs.dummyHash, []byte(secret))
}
