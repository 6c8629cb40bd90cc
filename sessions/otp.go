package sessions

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// DefaultOTPLength is the number of decimal digits in a generated OTP.
const DefaultOTPLength = 6

var ten = big.NewInt(10)

// GenerateOTP returns a random string of length decimal digits drawn from a
// CSPRNG. Uniqueness against live sessions is the store's responsibility.
func GenerateOTP(length int) (string, error) {
	if length <= 0 {
		length = DefaultOTPLength
	}
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		buf[i] = '0' + byte(n.Int64())
	}
	return string(buf), nil
}
