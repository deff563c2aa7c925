package policy

// ValidateAmount checks that the amount is strictly positive and lies in
// the inclusive [min, max] range.
func ValidateAmount(amount, min, max int64) error {
	if amount <= 0 {
		return NewErrorf(InvalidAmount, "got %d", amount)
	}

	if amount < min {
		return NewErrorf(AmountTooSmall, "got %d, minimum %d", amount, min)
	}

	if amount > max {
		return NewErrorf(AmountTooLarge, "got %d, maximum %d", amount, max)
	}

	return nil
}

// ValidateString checks that the length of the text lies in the inclusive
// [minLen, maxLen] range and that the text is not empty.
func ValidateString(text string, minLen, maxLen int) error {
	length := len(text)

	if length < minLen {
		return NewErrorf(StringTooShort, "length %d, minimum %d", length, minLen)
	}

	if length > maxLen {
		return NewErrorf(StringTooLong, "length %d, maximum %d", length, maxLen)
	}

	if length == 0 {
		return NewErrorf(InvalidString, "empty")
	}

	return nil
}

// ValidateArrayLen checks that the length lies in the inclusive [minLen,
// maxLen] range.
func ValidateArrayLen(length, minLen, maxLen int) error {
	if length < minLen {
		return NewErrorf(ArrayTooSmall, "length %d, minimum %d", length, minLen)
	}

	if length > maxLen {
		return NewErrorf(ArrayTooLarge, "length %d, maximum %d", length, maxLen)
	}

	return nil
}

// ValidateTimestamp checks that the timestamp is set, that it does not lie
// in the past unless allowed, and that it does not lie further than
// maxFuture seconds ahead of now.
func ValidateTimestamp(ts, now uint64, allowPast bool, maxFuture uint64) error {
	if ts == 0 {
		return NewErrorf(InvalidTimestamp, "zero value")
	}

	if !allowPast && ts < now {
		return NewErrorf(TimestampInPast, "timestamp %d, now %d", ts, now)
	}

	if ts > now+maxFuture {
		return NewErrorf(TimestampInDistantFuture, "timestamp %d, horizon %d", ts, now+maxFuture)
	}

	return nil
}
