package codec

import (
	"encoding/base64"
	"strings"
)

// Codec turns arbitrary byte strings into tokens that are safe to use as keys
// and values in text oriented backends, and back.
type Codec struct {
	enc *base64.Encoding
}

var (
	// Standard uses the padded standard base64 alphabet.
	Standard = Codec{enc: base64.StdEncoding}

	// URLSafe substitutes '-' and '_' for '+' and '/'. It is meant for backends
	// that give '/' or '+' a meaning inside identifiers (e.g. object stores).
	URLSafe = Codec{enc: base64.URLEncoding}
)

// Encode returns the token for b. An empty input yields an empty token.
func (c Codec) Encode(b []byte) string {
	return c.enc.EncodeToString(b)
}

// EncodeString is Encode for string input.
func (c Codec) EncodeString(s string) string {
	return c.enc.EncodeToString([]byte(s))
}

// Decode reverses Encode. Line breaks inside the token are ignored, so tokens
// that were wrapped for transport decode to the same bytes.
func (c Codec) Decode(token string) ([]byte, error) {
	if strings.ContainsAny(token, "\r\n") {
		token = strings.NewReplacer("\r", "", "\n", "").Replace(token)
	}
	if token == "" {
		return []byte{}, nil
	}
	return c.enc.DecodeString(token)
}

// DecodeString is Decode returning a string.
func (c Codec) DecodeString(token string) (string, error) {
	b, err := c.Decode(token)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Wrap splits a token into lines of at most width characters. Decode accepts
// the result unchanged.
func Wrap(token string, width int) string {
	if width <= 0 || len(token) <= width {
		return token
	}
	var sb strings.Builder
	sb.Grow(len(token) + len(token)/width)
	for i := 0; i < len(token); i += width {
		end := i + width
		if end > len(token) {
			end = len(token)
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(token[i:end])
	}
	return sb.String()
}
