package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
)

const (
	upperChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars   = "abcdefghijkmnopqrstuvwxyz"
	digitChars   = "23456789"
	specialChars = "!@#$%^&*-_=+"
)

// HashToken returns the hex SHA-256 of a non-password secret such as a refresh token.
// Refresh tokens carry 128 bits of jti entropy, so a single fast hash is enough.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual performs constant-time comparison of the provided token's hash
// with the stored hash. Returns true only if they match.
func TokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// RandomToken returns byteLength random bytes encoded as unpadded base64url.
func RandomToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", errors.New("security: token length must be positive")
	}
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RandomPassword returns a random password of the given length. Passwords of length 4
// or more contain at least one uppercase, lowercase, digit and special character,
// so they satisfy DefaultPasswordPolicy with or without the special rule.
func RandomPassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("security: password length must be positive")
	}
	all := upperChars + lowerChars + digitChars + specialChars
	out := make([]byte, 0, length)
	if length >= 4 {
		for _, set := range []string{upperChars, lowerChars, digitChars, specialChars} {
			c, err := randomChar(set)
			if err != nil {
				return "", err
			}
			out = append(out, c)
		}
	}
	for len(out) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	// Fisher-Yates so the guaranteed classes are not always first.
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		k := j.Int64()
		out[i], out[k] = out[k], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
