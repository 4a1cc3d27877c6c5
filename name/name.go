// Package name implements the 64-bit symbolic names used to identify accounts,
// scopes, tables and indexes.
package name

import (
	"fmt"
)

// Name is a string of up to 13 characters packed into 64 bits: 12 characters
// from ".12345abcdefghijklmnopqrstuvwxyz" using five bits each, plus an optional
// 13th character from ".12345abcdefghij" using the remaining four bits.
type Name uint64

const (
	charmap = ".12345abcdefghijklmnopqrstuvwxyz"

	MaxLength = 13
)

func charToSymbol(c byte) (uint64, bool) {
	switch {
	case c >= 'a' && c <= 'z':
		return uint64(c-'a') + 6, true
	case c >= '1' && c <= '5':
		return uint64(c-'1') + 1, true
	case c == '.':
		return 0, true
	}
	return 0, false
}

// ParseName converts a string into a Name; the string must be in the canonical
// form returned by Name.String.
func ParseName(s string) (Name, error) {
	if len(s) > MaxLength {
		return 0, fmt.Errorf("name: %q: too long", s)
	}

	var n uint64
	for i := 0; i < len(s); i++ {
		c, ok := charToSymbol(s[i])
		if !ok {
			return 0, fmt.Errorf("name: %q: invalid character %q", s, s[i])
		}
		if i < MaxLength-1 {
			n |= (c & 0x1F) << (64 - 5*(i+1))
		} else {
			if c > 0x0F {
				return 0, fmt.Errorf("name: %q: invalid last character %q", s, s[i])
			}
			n |= c
		}
	}

	nam := Name(n)
	if nam.String() != s {
		return 0, fmt.Errorf("name: %q: not in canonical form", s)
	}
	return nam, nil
}

// MustParseName is like ParseName but panics on an invalid string.
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

func (n Name) String() string {
	var buf [MaxLength]byte

	tmp := uint64(n)
	for i := 0; i < MaxLength; i++ {
		if i == 0 {
			buf[MaxLength-1] = charmap[tmp&0x0F]
			tmp >>= 4
		} else {
			buf[MaxLength-1-i] = charmap[tmp&0x1F]
			tmp >>= 5
		}
	}

	end := MaxLength
	for end > 0 && buf[end-1] == '.' {
		end -= 1
	}
	return string(buf[:end])
}

func (n Name) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *Name) UnmarshalText(b []byte) error {
	var err error
	*n, err = ParseName(string(b))
	return err
}
