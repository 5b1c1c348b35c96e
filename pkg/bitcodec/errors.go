package bitcodec

import "errors"

var (
	// ErrOverflow is returned when a write would move the cursor past its limit
	ErrOverflow = errors.New("bitcodec: write past limit")

	// ErrUnderflow is returned when a read would move the cursor past its limit
	ErrUnderflow = errors.New("bitcodec: read past limit")

	// ErrValueTooWide is returned when a value does not fit the requested field width
	ErrValueTooWide = errors.New("bitcodec: value too wide for field")

	// ErrInvalidWidth is returned for field widths outside 1..64
	ErrInvalidWidth = errors.New("bitcodec: invalid field width")

	// ErrNotPositive is returned when gamma coding is asked to encode zero
	ErrNotPositive = errors.New("bitcodec: gamma code requires a value >= 1")

	// ErrCorrupt is returned when a variable-length code cannot be decoded
	ErrCorrupt = errors.New("bitcodec: corrupt variable-length code")
)
