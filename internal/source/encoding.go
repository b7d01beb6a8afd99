package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
	"golang.org/x/text/transform"
)

// Encoding names the character encoding of a tailed file.
type Encoding string

const (
	UTF8  Encoding = "utf-8"
	UTF16 Encoding = "utf-16"
	UTF32 Encoding = "utf-32"
)

// Encodings lists the supported encodings in menu order.
var Encodings = []Encoding{UTF8, UTF16, UTF32}

// ErrUnknownEncoding is returned by ParseEncoding for unsupported names.
var ErrUnknownEncoding = errors.New("unknown encoding")

// ParseEncoding accepts the common spellings of the supported encodings
// ("utf-8", "UTF8", "utf_16", ...). An empty string means UTF-8.
func ParseEncoding(name string) (Encoding, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "", "_", "").Replace(n)
	switch n {
	case "", "utf8":
		return UTF8, nil
	case "utf16":
		return UTF16, nil
	case "utf32":
		return UTF32, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
}

func (e Encoding) String() string { return string(e) }

// NewWriter returns a writer that encodes UTF-8 text as e. UTF-16 and
// UTF-32 output is little endian and starts with a byte-order mark.
// Close flushes the encoder.
func (e Encoding) NewWriter(w io.Writer) io.WriteCloser {
	switch e {
	case UTF16:
		return transform.NewWriter(w, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder())
	case UTF32:
		return transform.NewWriter(w, utf32.UTF32(utf32.LittleEndian, utf32.UseBOM).NewEncoder())
	default:
		return transform.NewWriter(w, transform.Nop)
	}
}

// unitSize is the width in bytes of one code unit.
func (e Encoding) unitSize() int {
	switch e {
	case UTF16:
		return 2
	case UTF32:
		return 4
	default:
		return 1
	}
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF32LE = []byte{0xFF, 0xFE, 0x00, 0x00}
	bomUTF32BE = []byte{0x00, 0x00, 0xFE, 0xFF}
)

// LineDecoder turns raw chunks of a file into trimmed lines. UTF-16 and
// UTF-32 default to little endian; a byte-order mark at the start of the
// file switches the byte order and is never emitted.
//
// A LineDecoder is not safe for concurrent use.
type LineDecoder struct {
	enc       Encoding
	bigEndian bool
	bomLen    int
}

// NewLineDecoder returns a decoder for enc.
func NewLineDecoder(enc Encoding) *LineDecoder {
	return &LineDecoder{enc: enc}
}

// Encoding reports the decoder's encoding.
func (d *LineDecoder) Encoding() Encoding { return d.enc }

// Sniff inspects the first bytes of a file for a byte-order mark.
func (d *LineDecoder) Sniff(head []byte) {
	d.bomLen = 0
	switch d.enc {
	case UTF8:
		if bytes.HasPrefix(head, bomUTF8) {
			d.bomLen = len(bomUTF8)
		}
	case UTF16:
		switch {
		case bytes.HasPrefix(head, bomUTF16BE):
			d.bigEndian, d.bomLen = true, 2
		case bytes.HasPrefix(head, bomUTF16LE):
			d.bigEndian, d.bomLen = false, 2
		}
	case UTF32:
		switch {
		case bytes.HasPrefix(head, bomUTF32BE):
			d.bigEndian, d.bomLen = true, 4
		case bytes.HasPrefix(head, bomUTF32LE):
			d.bigEndian, d.bomLen = false, 4
		}
	}
}

// Align rounds offset down to the start of a code unit, counting from the
// end of the byte-order mark.
func (d *LineDecoder) Align(offset int64) int64 {
	base := int64(d.bomLen)
	if offset <= base {
		return offset
	}
	return offset - (offset-base)%int64(d.enc.unitSize())
}

// Split decodes the complete lines held in chunk, which starts at byte
// offset of the file. It returns the lines in order and the number of
// bytes consumed; bytes after the last newline are left for a later call.
// A decode error consumes nothing.
func (d *LineDecoder) Split(chunk []byte, offset int64) ([]string, int, error) {
	skip := d.skipBOM(chunk, offset)
	body := chunk[skip:]

	end := d.lastNewline(body)
	if end == 0 {
		return nil, 0, nil
	}

	text, err := d.decode(body[:end], true)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", d.enc, err)
	}

	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = trimLine(l)
	}
	return lines, skip + end, nil
}

// Lines decodes every line in chunk, including a trailing line without a
// newline. Invalid sequences are replaced rather than reported. When the
// chunk does not start at the beginning of the file the first line may be
// a fragment and is dropped.
func (d *LineDecoder) Lines(chunk []byte, offset int64) []string {
	skip := d.skipBOM(chunk, offset)
	body := chunk[skip:]
	body = body[:len(body)-len(body)%d.enc.unitSize()]
	text, _ := d.decode(body, false)
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if offset > 0 {
		lines = lines[1:]
	}
	for i, l := range lines {
		lines[i] = trimLine(l)
	}
	return lines
}

// skipBOM re-sniffs chunks read from the very start of the file and
// returns how many leading bytes belong to a byte-order mark.
func (d *LineDecoder) skipBOM(chunk []byte, offset int64) int {
	if offset == 0 {
		d.Sniff(chunk)
	}
	if offset >= int64(d.bomLen) {
		return 0
	}
	skip := d.bomLen - int(offset)
	if skip > len(chunk) {
		return len(chunk)
	}
	return skip
}

// lastNewline returns the index just past the last newline code unit in b,
// or 0 when b holds no complete line.
func (d *LineDecoder) lastNewline(b []byte) int {
	unit := d.enc.unitSize()
	if unit == 1 {
		return bytes.LastIndexByte(b, '\n') + 1
	}
	for i := len(b) - len(b)%unit - unit; i >= 0; i -= unit {
		if d.isNewline(b[i : i+unit]) {
			return i + unit
		}
	}
	return 0
}

func (d *LineDecoder) isNewline(u []byte) bool {
	lsb, rest := u[0], u[1:]
	if d.bigEndian {
		lsb, rest = u[len(u)-1], u[:len(u)-1]
	}
	if lsb != '\n' {
		return false
	}
	for _, b := range rest {
		if b != 0 {
			return false
		}
	}
	return true
}

func (d *LineDecoder) decode(b []byte, strict bool) (string, error) {
	var t transform.Transformer
	switch d.enc {
	case UTF16:
		order := unicode.LittleEndian
		if d.bigEndian {
			order = unicode.BigEndian
		}
		t = unicode.UTF16(order, unicode.IgnoreBOM).NewDecoder()
	case UTF32:
		order := utf32.LittleEndian
		if d.bigEndian {
			order = utf32.BigEndian
		}
		t = utf32.UTF32(order, utf32.IgnoreBOM).NewDecoder()
	default:
		if strict {
			t = encoding.UTF8Validator
		} else {
			t = unicode.UTF8.NewDecoder()
		}
	}
	out, _, err := transform.Bytes(t, b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func trimLine(s string) string {
	return strings.TrimRight(s, " \t\r\v\f")
}
