package plaintext

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"
)

var Extensions = []string{
	".txt", ".text", ".md", ".markdown", ".log",
	".cfg", ".conf", ".config", ".ini", ".env", ".properties",
	".toml", ".yaml", ".yml", ".json", ".xml",
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decoder returns text formats verbatim.
type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Decode(_ context.Context, name string, raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%s is not valid utf-8 text", name)
	}
	return string(raw), nil
}
