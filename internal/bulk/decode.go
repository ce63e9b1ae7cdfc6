package bulk

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/jonathan/permit-collector/internal/types"
)

// Decoding names how a downloaded body is turned into text.
type Decoding string

const (
	// DecodeUnicodeEscape interprets backslash escape sequences in the body
	DecodeUnicodeEscape Decoding = "unicode_escape"
	// DecodeUTF8 passes valid UTF-8 through unchanged
	DecodeUTF8 Decoding = "utf8"
)

// Valid reports whether d is a known decoding.
func (d Decoding) Valid() bool {
	return d == DecodeUnicodeEscape || d == DecodeUTF8
}

// Decode turns body into text. Bodies that are not valid UTF-8 are read as Latin-1
// before escapes are interpreted; DecodeUTF8 rejects them instead.
func Decode(d Decoding, body []byte) (string, error) {
	switch d {
	case DecodeUTF8:
		if !utf8.Valid(body) {
			return "", &DecodeError{Offset: invalidOffset(body), Message: "invalid UTF-8"}
		}
		return strings.TrimPrefix(string(body), "\ufeff"), nil
	case DecodeUnicodeEscape, "":
		text, err := toText(body)
		if err != nil {
			return "", err
		}
		return Unescape(strings.TrimPrefix(text, "\ufeff"))
	default:
		return "", &DecodeError{Message: fmt.Sprintf("unknown decoding %q", d)}
	}
}

func toText(body []byte) (string, error) {
	if utf8.Valid(body) {
		return string(body), nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	if err != nil {
		return "", &DecodeError{Offset: invalidOffset(body), Message: err.Error()}
	}
	return string(out), nil
}

func invalidOffset(body []byte) int {
	for i := 0; i < len(body); {
		r, size := utf8.DecodeRune(body[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(body)
}

// Unescape interprets backslash escapes: \n \t \r \a \b \f \v \\ \' \", \xHH,
// \uHHHH, \UHHHHHHHH and octal \ooo. A backslash before a newline joins the lines.
// Unknown escapes are kept as written.
func Unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(s) {
			return "", &DecodeError{Offset: i, Message: `\ at end of input`}
		}
		e := s[i+1]
		i += 2
		switch e {
		case '\n':
		case '\\', '\'', '"':
			b.WriteByte(e)
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case 'x', 'u', 'U':
			width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[e]
			if i+width > len(s) {
				return "", &DecodeError{Offset: i - 2, Message: fmt.Sprintf(`truncated \%c escape`, e)}
			}
			v, err := strconv.ParseUint(s[i:i+width], 16, 32)
			if err != nil {
				return "", &DecodeError{Offset: i - 2, Message: fmt.Sprintf(`malformed \%c escape`, e)}
			}
			if v > unicode.MaxRune {
				return "", &DecodeError{Offset: i - 2, Message: "escape out of range"}
			}
			b.WriteRune(rune(v))
			i += width
		case '0', '1', '2', '3', '4', '5', '6', '7':
			start := i - 1
			end := start + 1
			for end < len(s) && end < start+3 && s[end] >= '0' && s[end] <= '7' {
				end++
			}
			v, _ := strconv.ParseUint(s[start:end], 8, 32)
			b.WriteRune(rune(v))
			i = end
		default:
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	return b.String(), nil
}

// ParseCSV reads a header row followed by data rows. Short rows are padded with
// empty cells; rows longer than the header are an error.
func ParseCSV(text string) (*types.Table, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Message: "no header row"}
	}
	if err != nil {
		return nil, &ParseError{Message: "failed to read header", Cause: err}
	}

	header = uniqueHeader(header)
	table := types.NewTable(header...)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Message: "failed to read row", Cause: err}
		}
		if len(record) > len(header) {
			line, _ := r.FieldPos(0)
			return nil, &ParseError{Message: fmt.Sprintf("line %d: expected %d fields, saw %d", line, len(header), len(record))}
		}
		for len(record) < len(header) {
			record = append(record, "")
		}
		table.Rows = append(table.Rows, record)
	}
	return table, nil
}

// uniqueHeader names blank columns "Unnamed: i" and renames repeats to
// "name.1", "name.2" and so on, skipping names the header already uses.
func uniqueHeader(header []string) []string {
	names := make([]string, len(header))
	counts := make(map[string]int, len(header))
	for i, col := range header {
		if strings.TrimSpace(col) == "" {
			col = fmt.Sprintf("Unnamed: %d", i)
		}
		n := counts[col]
		for n > 0 {
			counts[col] = n + 1
			col = fmt.Sprintf("%s.%d", col, n)
			n = counts[col]
		}
		names[i] = col
		counts[col] = n + 1
	}
	return names
}
