package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAmount(t *testing.T) {
	require.NoError(t, ValidateAmount(10, 1, 100))
	require.NoError(t, ValidateAmount(1, 1, 100))
	require.NoError(t, ValidateAmount(100, 1, 100))

	err := ValidateAmount(0, 1, 100)
	require.EqualError(t, err, "invalid amount: got 0")

	err = ValidateAmount(-5, 1, 100)
	require.EqualError(t, err, "invalid amount: got -5")

	err = ValidateAmount(5, 10, 100)
	require.EqualError(t, err, "amount too small: got 5, minimum 10")

	err = ValidateAmount(101, 1, 100)
	require.EqualError(t, err, "amount too large: got 101, maximum 100")
}

func TestValidateString(t *testing.T) {
	require.NoError(t, ValidateString("abc", 1, 10))
	require.NoError(t, ValidateString("a", 1, 1))

	err := ValidateString("ab", 3, 10)
	require.EqualError(t, err, "string too short: length 2, minimum 3")

	err = ValidateString("abcdef", 0, 5)
	require.EqualError(t, err, "string too long: length 6, maximum 5")

	err = ValidateString("", 0, 5)
	require.EqualError(t, err, "invalid string: empty")
}

func TestValidateArrayLen(t *testing.T) {
	require.NoError(t, ValidateArrayLen(3, 1, 5))

	err := ValidateArrayLen(1, 2, 5)
	require.EqualError(t, err, "array too small: length 1, minimum 2")

	err = ValidateArrayLen(6, 2, 5)
	require.EqualError(t, err, "array too large: length 6, maximum 5")
}

func TestValidateTimestamp(t *testing.T) {
	require.NoError(t, ValidateTimestamp(10, 10, false, 100))
	require.NoError(t, ValidateTimestamp(110, 10, false, 100))
	require.NoError(t, ValidateTimestamp(5, 10, true, 100))

	err := ValidateTimestamp(0, 10, true, 100)
	require.EqualError(t, err, "invalid timestamp: zero value")

	err = ValidateTimestamp(5, 10, false, 100)
	require.EqualError(t, err, "timestamp in past: timestamp 5, now 10")

	err = ValidateTimestamp(111, 10, false, 100)
	require.EqualError(t, err, "timestamp in distant future: timestamp 111, horizon 110")
}
