package normalize

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding selects how raw file bytes are decoded before CSV parsing.
type Encoding string

const (
	EncodingAuto    Encoding = "auto" // UTF-8, falling back to Latin-1 on invalid input
	EncodingUTF8    Encoding = "utf-8"
	EncodingLatin1  Encoding = "latin1"
	EncodingWin1252 Encoding = "cp1252"
)

// ErrEmptyFile is returned when a file holds no header row.
var ErrEmptyFile = errors.New("file has no header row")

// ParseEncoding maps a flag value onto an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EncodingAuto, nil
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	case "latin1", "latin-1", "iso-8859-1":
		return EncodingLatin1, nil
	case "cp1252", "windows-1252":
		return EncodingWin1252, nil
	}
	return "", fmt.Errorf("unsupported encoding %q", s)
}

// Table is a decoded CSV file: a header row and raw string cells.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]string

	// Encoding is the encoding actually used to decode the file.
	Encoding Encoding
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	if name == "" {
		return -1
	}
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// Cell returns the trimmed value at column idx of row, "" when out of range.
func Cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// ReadTable decodes data with enc and parses it as CSV.
func ReadTable(name string, data []byte, enc Encoding) (*Table, error) {
	text, used, err := decode(data, enc)
	if err != nil {
		return nil, fmt.Errorf("ReadTable: %s: %w", name, err)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	t := &Table{Name: name, Encoding: used}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ReadTable: %s: %w", name, err)
		}
		if t.Headers == nil {
			if blank(rec) {
				continue
			}
			t.Headers = make([]string, len(rec))
			for i, h := range rec {
				t.Headers[i] = strings.TrimSpace(h)
			}
			continue
		}
		t.Rows = append(t.Rows, rec)
	}

	if t.Headers == nil {
		return nil, fmt.Errorf("ReadTable: %s: %w", name, ErrEmptyFile)
	}
	return t, nil
}

func decode(data []byte, enc Encoding) (string, Encoding, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	switch enc {
	case EncodingUTF8:
		return string(data), EncodingUTF8, nil
	case EncodingLatin1:
		s, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		return string(s), EncodingLatin1, err
	case EncodingWin1252:
		s, err := charmap.Windows1252.NewDecoder().Bytes(data)
		return string(s), EncodingWin1252, err
	}

	if utf8.Valid(data) {
		return string(data), EncodingUTF8, nil
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return string(s), EncodingLatin1, err
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
