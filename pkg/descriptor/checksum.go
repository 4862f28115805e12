package descriptor

import (
	"errors"
	"fmt"
	"strings"
)

const (
	inputCharset    = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	checksumLen     = 8
)

var (
	ErrInvalidChecksum   = errors.New("invalid descriptor checksum")
	ErrInvalidCharacter  = errors.New("invalid character in descriptor")
	ErrMissingChecksum   = errors.New("missing descriptor checksum")
	ErrChecksumMalformed = errors.New("malformed descriptor checksum")
)

func polymod(c uint64, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val
	if c0&1 != 0 {
		c ^= 0xf5dee51989
	}
	if c0&2 != 0 {
		c ^= 0xa9fdca3312
	}
	if c0&4 != 0 {
		c ^= 0x1bab10e32d
	}
	if c0&8 != 0 {
		c ^= 0x3706b1677a
	}
	if c0&16 != 0 {
		c ^= 0x644d626ffd
	}
	return c
}

// Checksum computes the BIP380 checksum of a descriptor string without its
// trailing "#checksum".
func Checksum(desc string) (string, error) {
	c := uint64(1)
	cls := uint64(0)
	clscount := 0
	for _, ch := range desc {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf("%w: %q", ErrInvalidCharacter, ch)
		}
		c = polymod(c, uint64(pos)&31)
		cls = cls*3 + uint64(pos>>5)
		clscount++
		if clscount == 3 {
			c = polymod(c, cls)
			cls = 0
			clscount = 0
		}
	}
	if clscount > 0 {
		c = polymod(c, cls)
	}
	for i := 0; i < checksumLen; i++ {
		c = polymod(c, 0)
	}
	c ^= 1

	var sb strings.Builder
	for i := 0; i < checksumLen; i++ {
		sb.WriteByte(checksumCharset[(c>>(5*(7-i)))&31])
	}
	return sb.String(), nil
}

// AddChecksum appends "#checksum" to the given descriptor.
func AddChecksum(desc string) (string, error) {
	checksum, err := Checksum(desc)
	if err != nil {
		return "", err
	}
	return desc + "#" + checksum, nil
}

// SplitChecksum separates a descriptor from its checksum and verifies it.
// When requireChecksum is false a descriptor without checksum is accepted.
func SplitChecksum(desc string, requireChecksum bool) (string, string, error) {
	idx := strings.LastIndex(desc, "#")
	if idx < 0 {
		if requireChecksum {
			return "", "", ErrMissingChecksum
		}
		checksum, err := Checksum(desc)
		if err != nil {
			return "", "", err
		}
		return desc, checksum, nil
	}

	body, got := desc[:idx], desc[idx+1:]
	if len(got) != checksumLen {
		return "", "", ErrChecksumMalformed
	}
	expected, err := Checksum(body)
	if err != nil {
		return "", "", err
	}
	if got != expected {
		return "", "", fmt.Errorf(
			"%w: got %s, expected %s", ErrInvalidChecksum, got, expected,
		)
	}
	return body, got, nil
}
