package ami

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const maxLineSize = 64 * 1024

// Parser splits an AMI byte stream into message blocks.
type Parser struct {
	scanner *bufio.Scanner
}

// NewParser creates a Parser that reads from the given reader.
func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), maxLineSize)
	return &Parser{scanner: s}
}

// Next reads the next block from the stream. It returns false at EOF or on
// a read error; Err distinguishes the two.
func (p *Parser) Next() (Event, bool) {
	var headers []Header

	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")

		if line == "" {
			if len(headers) > 0 {
				return Event{headers: headers}, true
			}
			continue
		}

		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			// Banner and other free-text lines outside a block carry nothing.
			if len(headers) == 0 {
				continue
			}
			// "Key:" with an empty value is legal AMI.
			if k, found := strings.CutSuffix(line, ":"); found {
				headers = append(headers, Header{Key: k})
				continue
			}
			headers = append(headers, Header{Value: line})
			continue
		}
		headers = append(headers, Header{Key: key, Value: value})
	}

	if len(headers) > 0 {
		return Event{headers: headers}, true
	}
	return Event{}, false
}

// Err returns the first non-EOF read error.
func (p *Parser) Err() error {
	return p.scanner.Err()
}

// ParseAll reads all blocks from the stream.
func (p *Parser) ParseAll() []Event {
	var events []Event
	for {
		evt, ok := p.Next()
		if !ok {
			return events
		}
		events = append(events, evt)
	}
}

// ParseBytes parses every block in data.
func ParseBytes(data []byte) []Event {
	return NewParser(bytes.NewReader(data)).ParseAll()
}
