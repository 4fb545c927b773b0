package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2-SHA256 iteration target for new hashes.
	DefaultIterations = 600000
	// MinIterations is the floor accepted by NewPasswordVault.
	MinIterations = 10000

	pbkdf2Algorithm = "pbkdf2_sha256"
	saltLength      = 16
	digestLength    = 32
)

// PasswordVault hashes and verifies passwords with PBKDF2-SHA256. Hashes are
// self-describing: pbkdf2_sha256$<iterations>$<salt>$<digest> (base64, no padding).
// Legacy bcrypt hashes still verify and always report NeedsRehash.
// Callers must not log or persist plaintext passwords.
type PasswordVault struct {
	iterations int
}

// NewPasswordVault returns a PasswordVault targeting the given iteration count.
// Zero uses DefaultIterations; values below MinIterations are raised to it.
func NewPasswordVault(iterations int) *PasswordVault {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if iterations < MinIterations {
		iterations = MinIterations
	}
	return &PasswordVault{iterations: iterations}
}

// Iterations returns the current target iteration count.
func (v *PasswordVault) Iterations() int { return v.iterations }

// Hash derives a new encoded hash with a fresh random salt.
func (v *PasswordVault) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("security: read salt: %w", err)
	}
	digest := pbkdf2.Key([]byte(password), salt, v.iterations, digestLength, sha256.New)
	return strings.Join([]string{
		pbkdf2Algorithm,
		strconv.Itoa(v.iterations),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	}, "$"), nil
}

// Verify reports whether password matches encoded. Comparison is constant-time.
// Any malformed hash yields false.
func (v *PasswordVault) Verify(password, encoded string) bool {
	if isBcrypt(encoded) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
	}
	h, ok := parsePBKDF2(encoded)
	if !ok {
		return false
	}
	got := pbkdf2.Key([]byte(password), h.salt, h.iterations, len(h.digest), sha256.New)
	return subtle.ConstantTimeCompare(got, h.digest) == 1
}

// NeedsRehash reports whether encoded should be replaced on the next successful login:
// it uses fewer iterations than the target, or is a legacy bcrypt hash.
func (v *PasswordVault) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	h, ok := parsePBKDF2(encoded)
	if !ok {
		return true
	}
	return h.iterations < v.iterations
}

// DummyVerify spends roughly the cost of one Verify. Used when the account does not
// exist so response time does not reveal it.
func (v *PasswordVault) DummyVerify(password string) {
	_ = pbkdf2.Key([]byte(password), make([]byte, saltLength), v.iterations, digestLength, sha256.New)
}

type pbkdf2Hash struct {
	iterations int
	salt       []byte
	digest     []byte
}

func parsePBKDF2(encoded string) (pbkdf2Hash, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != pbkdf2Algorithm {
		return pbkdf2Hash{}, false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return pbkdf2Hash{}, false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return pbkdf2Hash{}, false
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(digest) == 0 {
		return pbkdf2Hash{}, false
	}
	return pbkdf2Hash{iterations: iterations, salt: salt, digest: digest}, true
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
