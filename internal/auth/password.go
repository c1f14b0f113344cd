package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("auth: invalid hash format")
	ErrIncompatibleVersion = errors.New("auth: incompatible argon2 version")
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

// PasswordParams tunes argon2id.
type PasswordParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultPasswordParams returns the production argon2id settings.
func DefaultPasswordParams() PasswordParams {
	return PasswordParams{
		Memory:      64 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies secrets with fixed params.
type Hasher struct {
	params PasswordParams
}

func NewHasher(p PasswordParams) *Hasher {
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 || p.SaltLength == 0 || p.KeyLength == 0 {
		p = DefaultPasswordParams()
	}
	return &Hasher{params: p}
}

// Hash returns the stored form of secret. The salt is regenerated on every call.
func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	p := h.params
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the params embedded in stored. Any malformed
// stored form yields false.
func (h *Hasher) Verify(secret, stored string) bool {
	p, salt, key, err := decodeHash(stored)
	if err != nil {
		return false
	}
	other := argon2.IDKey([]byte(secret), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(key, other) == 1
}

var defaultHasher = NewHasher(DefaultPasswordParams())

// HashPassword hashes with the default params.
func HashPassword(secret string) (string, error) {
	return defaultHasher.Hash(secret)
}

// VerifyPassword checks secret against a stored form produced by HashPassword.
func VerifyPassword(secret, stored string) bool {
	return defaultHasher.Verify(secret, stored)
}

// ValidatePassword enforces the length policy.
func ValidatePassword(secret string) error {
	verr := &ValidationError{}
	switch {
	case len(secret) < minPasswordLength:
		verr.Add("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	case len(secret) > maxPasswordLength:
		verr.Add("password", fmt.Sprintf("must be at most %d characters", maxPasswordLength))
	}
	return verr.OrNil()
}

func decodeHash(stored string) (PasswordParams, []byte, []byte, error) {
	var p PasswordParams
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, ErrInvalidHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return p, nil, nil, ErrIncompatibleVersion
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
