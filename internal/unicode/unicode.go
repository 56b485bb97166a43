// Package unicode converts on-disk UTF-16 string data to the UTF-8 used at
// every external boundary. GPT partition names and several keybag fields are
// stored as UTF-16; the converter runs in a strict mode that rejects
// malformed input and a lenient mode that repairs it with U+FFFD.
package unicode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	xunicode "golang.org/x/text/encoding/unicode"
)

// ErrSourceIllegal is returned in strict mode when the input contains an
// unpaired surrogate or a truncated code unit.
var ErrSourceIllegal = errors.New("illegal UTF-16 sequence")

// FromUTF16 transcodes UTF-16 bytes in the given byte order to UTF-8.
// A trailing NUL terminates the string. In lenient mode malformed sequences
// become U+FFFD; in strict mode they yield ErrSourceIllegal.
func FromUTF16(b []byte, bo binary.ByteOrder, strict bool) (string, error) {
	if len(b)%2 != 0 {
		if strict {
			return "", fmt.Errorf("odd-length input (%d bytes): %w", len(b), ErrSourceIllegal)
		}
		b = b[:len(b)-1]
	}

	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := bo.Uint16(b[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}

	if strict {
		return decodeStrict(units)
	}
	return decodeLenient(b[:len(units)*2], bo)
}

// decodeStrict walks the code units by hand so unpaired surrogates can be
// reported instead of repaired.
func decodeStrict(units []uint16) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(units); i++ {
		u := units[i]
		switch {
		case u >= 0xD800 && u <= 0xDBFF:
			if i+1 >= len(units) {
				return "", fmt.Errorf("truncated surrogate pair: %w", ErrSourceIllegal)
			}
			lo := units[i+1]
			if lo < 0xDC00 || lo > 0xDFFF {
				return "", fmt.Errorf("high surrogate 0x%04X not followed by low surrogate: %w", u, ErrSourceIllegal)
			}
			sb.WriteRune(utf16.DecodeRune(rune(u), rune(lo)))
			i++
		case u >= 0xDC00 && u <= 0xDFFF:
			return "", fmt.Errorf("unexpected low surrogate 0x%04X: %w", u, ErrSourceIllegal)
		default:
			sb.WriteRune(rune(u))
		}
	}
	return sb.String(), nil
}

// decodeLenient hands the raw bytes to the x/text UTF-16 decoder, which maps
// malformed sequences to U+FFFD.
func decodeLenient(b []byte, bo binary.ByteOrder) (string, error) {
	endianness := xunicode.LittleEndian
	if bo == binary.BigEndian {
		endianness = xunicode.BigEndian
	}
	dec := xunicode.UTF16(endianness, xunicode.IgnoreBOM).NewDecoder()
	out, err := dec.Bytes(b)
	if err != nil {
		return "", fmt.Errorf("utf-16 decode: %w", err)
	}
	return string(out), nil
}

// CleanupUTF8 replaces every byte of every invalid UTF-8 sequence in s with
// the given ASCII replacement character.
func CleanupUTF8(s string, repl byte) string {
	if utf8.ValidString(s) {
		return s
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			out = append(out, repl)
			i++
			continue
		}
		out = append(out, s[i:i+size]...)
		i += size
	}
	return string(out)
}
