// Package credential turns raw reader payloads into canonical chip
// identifiers.
package credential

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ChipWidth is the width of the canonical decimal chip identifier.
const ChipWidth = 10

type Encoding string

const (
	EncodingDecimal Encoding = "decimal"
	EncodingHex     Encoding = "hex"
)

var ErrUnknownEncoding = errors.New("unknown credential encoding")

// ParseEncoding accepts the configuration spellings of an encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "decimal", "dec", "10":
		return EncodingDecimal, nil
	case "hex", "hexadecimal", "16":
		return EncodingHex, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
}

func (e Encoding) base() (int, error) {
	switch e {
	case EncodingDecimal:
		return 10, nil
	case EncodingHex:
		return 16, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEncoding, string(e))
}

// ChipID is a chip number in canonical form: decimal, left-padded with
// zeros to ChipWidth digits.  Values wider than ChipWidth are kept whole.
type ChipID string

func (c ChipID) String() string { return string(c) }

// Trimmed returns the identifier without its zero padding ("0" for zero).
func (c ChipID) Trimmed() string {
	t := strings.TrimLeft(string(c), "0")
	if t == "" {
		return "0"
	}
	return t
}

// Canonical renders n as a ChipID.
func Canonical(n uint64) ChipID {
	return ChipID(fmt.Sprintf("%0*d", ChipWidth, n))
}

// DecodeError reports a payload that is not an integer in the declared base.
type DecodeError struct {
	Raw      string
	Encoding Encoding
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s credential %q: %v", e.Encoding, e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses payload in the given encoding and returns its canonical
// chip identifier.
func Decode(payload []byte, enc Encoding) (ChipID, error) {
	raw := string(payload)
	base, err := enc.base()
	if err != nil {
		return "", &DecodeError{Raw: raw, Encoding: enc, Err: err}
	}

	s := strings.TrimSpace(raw)
	if enc == EncodingHex {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	}
	if s == "" {
		return "", &DecodeError{Raw: raw, Encoding: enc, Err: errors.New("empty payload")}
	}
	// ParseUint accepts a leading '+'; reader payloads never carry one.
	if s[0] == '+' {
		return "", &DecodeError{Raw: raw, Encoding: enc, Err: errors.New("unexpected sign")}
	}

	n, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return "", &DecodeError{Raw: raw, Encoding: enc, Err: err}
	}
	return Canonical(n), nil
}

// Encode renders n the way a reader configured for enc would publish it.
func Encode(n uint64, enc Encoding) []byte {
	if enc == EncodingHex {
		return []byte(strings.ToUpper(strconv.FormatUint(n, 16)))
	}
	return []byte(strconv.FormatUint(n, 10))
}
