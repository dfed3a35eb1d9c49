package settlement

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
)

const deliveryCodeSpace = 1_000_000

var deliveryCodePattern = regexp.MustCompile(`^\d{6}$`)

// CodeGenerator draws delivery codes.
type CodeGenerator interface {
	Next() (string, error)
}

type randomCodes struct {
	src io.Reader
}

// NewRandomCodes draws six digit codes from crypto/rand. Leading zeros are kept.
func NewRandomCodes() CodeGenerator {
	return randomCodes{src: rand.Reader}
}

func (r randomCodes) Next() (string, error) {
	n, err := rand.Int(r.src, big.NewInt(deliveryCodeSpace))
	if err != nil {
		return "", fmt.Errorf("draw delivery code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// drawUnique draws a code not present in taken, giving up after attempts draws.
func drawUnique(gen CodeGenerator, taken map[string]struct{}, attempts int) (string, error) {
	for i := 0; i < attempts; i++ {
		code, err := gen.Next()
		if err != nil {
			return "", err
		}
		if _, dup := taken[code]; dup {
			continue
		}
		taken[code] = struct{}{}
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

// ValidDeliveryCode reports whether code has the six digit shape.
func ValidDeliveryCode(code string) bool {
	return deliveryCodePattern.MatchString(code)
}
