// Package prime decides primality by trial division and formats the
// verdict strings the server sends back to clients.
package prime

import (
	"context"
	"strconv"
)

// cancelCheckInterval is how many trial divisions run between context checks.
const cancelCheckInterval = 1 << 16

// IsPrime reports whether n has no divisor in [2, n/2], with n/2 truncated
// toward zero. The range is empty for n <= 3 and for every negative n, so
// those values are reported prime (1, 0 and negatives included).
//
// Parameters:
//   - n: The number to test
//
// Returns:
//   - true if no divisor was found
func IsPrime(n int32) bool {
	prime, _ := isPrime(context.Background(), n)
	return prime
}

// Verdict returns the reply text for n: "<n> is prime" or "<n> is not prime".
func Verdict(n int32) string {
	return format(n, IsPrime(n))
}

func format(n int32, prime bool) string {
	s := strconv.FormatInt(int64(n), 10)
	if prime {
		return s + " is prime"
	}

	return s + " is not prime"
}

// isPrime runs trial division, returning ctx.Err() if ctx is cancelled
// before a verdict is reached. int64 arithmetic keeps the divisor from
// overflowing near math.MaxInt32.
func isPrime(ctx context.Context, n int32) (bool, error) {
	v := int64(n)
	limit := v / 2
	for d, steps := int64(2), 0; d <= limit; d, steps = d+1, steps+1 {
		if steps == cancelCheckInterval {
			steps = 0
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}

		if v%d == 0 {
			return false, nil
		}
	}

	return true, nil
}
