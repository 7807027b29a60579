package registry

import "golang.org/x/crypto/bcrypt"

// PasswordHasher abstracts credential hashing so tests can substitute a fast
// fake. The registry never stores or logs plaintext.
type PasswordHasher interface {
	Hash(password string) ([]byte, error)
	Verify(password string, hash []byte) bool
}

// BcryptHasher hashes with bcrypt at the default cost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) ([]byte, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

func (h BcryptHasher) Verify(password string, hash []byte) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
