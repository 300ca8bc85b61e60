package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
)

// GenerateOTP returns a uniformly random numeric code with exactly
// length digits, drawn from [10^(length-1), 10^length - 1].
func GenerateOTP(length int) (string, error) {
	if length < 4 || length > 10 {
		return "", fmt.Errorf("otp length %d out of range", length)
	}
	min := int64(1)
	for i := 1; i < length; i++ {
		min *= 10
	}
	span := big.NewInt(9 * min)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(min+n.Int64(), 10), nil
}

// HashOTP binds the code to its account and purpose so a hash stolen for
// one flow is useless in another.
func HashOTP(accountID, purpose, code string) string {
	sum := sha256.Sum256([]byte(accountID + ":" + purpose + ":" + code))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyOTPHash compares a candidate code against a stored hash in
// constant time.
func VerifyOTPHash(accountID, purpose, candidate, storedHash string) bool {
	computed := HashOTP(accountID, purpose, candidate)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
