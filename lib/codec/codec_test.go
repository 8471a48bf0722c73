package codec

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	inputs := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"ascii", []byte("orders")},
		{"slash and plus", []byte("a/b+c")},
		{"whitespace", []byte(" key with\tspaces\n")},
		{"nul bytes", []byte{0, 0, 1, 0}},
		{"all bytes", func() []byte {
			b := make([]byte, 256)
			for i := range b {
				b[i] = byte(i)
			}
			return b
		}()},
		{"one byte", []byte{0xff}},
		{"two bytes", []byte{0xfb, 0xff}},
	}

	for _, c := range []struct {
		name  string
		codec Codec
	}{{"standard", Standard}, {"urlsafe", URLSafe}} {
		for _, in := range inputs {
			t.Run(c.name+"/"+in.name, func(t *testing.T) {
				token := c.codec.Encode(in.data)
				if len(token)%4 != 0 {
					t.Errorf("token %q is not padded to a multiple of 4", token)
				}
				out, err := c.codec.Decode(token)
				if err != nil {
					t.Fatalf("Decode(%q) failed: %v", token, err)
				}
				if !bytes.Equal(out, in.data) {
					t.Errorf("round trip mismatch: got %v, want %v", out, in.data)
				}
			})
		}
	}
}

func TestURLSafeAvoidsReservedCharacters(t *testing.T) {
	data := []byte{0xfb, 0xff, 0xfe, 0x3e, 0x3f}
	if token := Standard.Encode(data); !strings.ContainsAny(token, "+/") {
		t.Fatalf("test input should produce '+' or '/' with the standard alphabet, got %q", token)
	}
	if token := URLSafe.Encode(data); strings.ContainsAny(token, "+/") {
		t.Errorf("url safe token contains reserved characters: %q", token)
	}
}

func TestDecodeWrapped(t *testing.T) {
	data := bytes.Repeat([]byte("wrapped payload "), 40)
	token := Standard.Encode(data)
	wrapped := Wrap(token, 76)
	if !strings.Contains(wrapped, "\n") {
		t.Fatalf("expected wrapped token to contain line breaks")
	}
	out, err := Standard.Decode(wrapped)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("wrapped round trip mismatch")
	}
	crlf := strings.ReplaceAll(wrapped, "\n", "\r\n")
	if out, err = Standard.Decode(crlf); err != nil || !bytes.Equal(out, data) {
		t.Errorf("CRLF wrapped round trip failed: %v", err)
	}
}

func TestDecodeInvalid(t *testing.T) {
	if _, err := Standard.Decode("not base64!"); err == nil {
		t.Errorf("expected error for invalid token")
	}
}

func TestStringHelpers(t *testing.T) {
	token := Standard.EncodeString("session:9")
	s, err := Standard.DecodeString(token)
	if err != nil {
		t.Fatalf("DecodeString failed: %v", err)
	}
	if s != "session:9" {
		t.Errorf("got %q, want %q", s, "session:9")
	}
}
