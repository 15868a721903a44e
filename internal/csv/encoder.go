// Package csv formats records into RFC-4180-style CSV with a configurable
// delimiter and quote character.
//
// encoding/csv.Writer exposes a configurable field separator (Comma) but no
// configurable quote character, so this package writes records directly
// rather than wrapping the standard writer. The Encoder never buffers more
// than one record: each Write call formats the record into a small
// reusable buffer and sends it straight to the underlying io.Writer.
package csv

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect is the pair (delimiter, quote character) governing serialization.
type Dialect struct {
	Delimiter rune
	QuoteChar rune
}

// DefaultDialect is the comma/double-quote dialect used when a request
// does not specify one.
var DefaultDialect = Dialect{Delimiter: ',', QuoteChar: '"'}

// Validate checks that the dialect is usable: both characters must be a
// single code point, and they must differ.
func (d Dialect) Validate() error {
	if d.Delimiter == d.QuoteChar {
		return fmt.Errorf("csv: delimiter and quote character must differ")
	}
	if d.Delimiter == 0 || d.QuoteChar == 0 {
		return fmt.Errorf("csv: delimiter and quote character must be set")
	}
	return nil
}

// Record is one row, keyed by column name. Encode renders it in the
// column order given to NewEncoder; a column absent from Record is
// rendered as an empty field.
type Record map[string]string

// Encoder writes a header row followed by any number of data rows to an
// underlying io.Writer, in the given column order and dialect.
type Encoder struct {
	w       *countingWriter
	columns []string
	dialect Dialect
	buf     strings.Builder
}

// NewEncoder returns an Encoder bound to w. It does not write anything
// until the first call to WriteHeader or WriteRecord.
func NewEncoder(w writer, columns []string, dialect Dialect) (*Encoder, error) {
	if err := dialect.Validate(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("csv: at least one column is required")
	}
	return &Encoder{
		w:       &countingWriter{w: w},
		columns: columns,
		dialect: dialect,
	}, nil
}

// writer is the subset of io.Writer the encoder needs; declared locally so
// callers can pass *os.File, a bufio.Writer, or a gzip.Writer without an
// import cycle on io in this small package's public surface.
type writer interface {
	Write(p []byte) (int, error)
}

// countingWriter tracks total bytes written, for callers that want to
// size a progress report or a Content-Length without a second pass.
type countingWriter struct {
	w     writer
	bytes int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.bytes += int64(n)
	return n, err
}

// BytesWritten returns the total number of bytes written so far.
func (e *Encoder) BytesWritten() int64 {
	return e.w.bytes
}

// WriteHeader writes the single header line: each column name quoted,
// separated by the dialect's delimiter, terminated by \n.
func (e *Encoder) WriteHeader() error {
	e.buf.Reset()
	for i, col := range e.columns {
		if i > 0 {
			e.buf.WriteRune(e.dialect.Delimiter)
		}
		e.writeQuotedField(col)
	}
	e.buf.WriteByte('\n')
	_, err := e.w.Write([]byte(e.buf.String()))
	return err
}

// WriteRecord writes one data row, fields in column order. Missing keys
// render as empty fields. The record is formatted into a reusable string
// builder and written in a single call, so the encoder never holds more
// than one record's worth of memory regardless of how many have been
// written before.
func (e *Encoder) WriteRecord(rec Record) error {
	e.buf.Reset()
	for i, col := range e.columns {
		if i > 0 {
			e.buf.WriteRune(e.dialect.Delimiter)
		}
		e.writeField(rec[col])
	}
	e.buf.WriteByte('\n')
	_, err := e.w.Write([]byte(e.buf.String()))
	return err
}

// writeField writes value as a field, quoting it only when required.
func (e *Encoder) writeField(value string) {
	if e.needsQuoting(value) {
		e.writeQuotedField(value)
		return
	}
	e.buf.WriteString(value)
}

// writeQuotedField writes value wrapped in the dialect's quote character,
// with any embedded quote character doubled.
func (e *Encoder) writeQuotedField(value string) {
	e.buf.WriteRune(e.dialect.QuoteChar)
	for _, r := range value {
		if r == e.dialect.QuoteChar {
			e.buf.WriteRune(r)
		}
		e.buf.WriteRune(r)
	}
	e.buf.WriteRune(e.dialect.QuoteChar)
}

func (e *Encoder) needsQuoting(value string) bool {
	return strings.ContainsRune(value, e.dialect.Delimiter) ||
		strings.ContainsRune(value, e.dialect.QuoteChar) ||
		strings.ContainsRune(value, '\n') ||
		strings.ContainsRune(value, '\r')
}

// FormatFloat renders a numeric value with no locale formatting, matching
// the canonical textual representation the encoder guarantees for
// non-string fields.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
