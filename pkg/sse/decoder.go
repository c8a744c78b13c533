package sse

import (
	"bufio"
	"io"
	"strings"
)

// DataPrefix is the literal prefix, including its single trailing space, that
// marks a line as a data frame.
const DataPrefix = "data: "

// LineDecoder frames a relayed chat stream into data payloads.
//
// Framing is line oriented: the stream is split on '\n' (a trailing '\r' is
// dropped) and only lines that start with DataPrefix are reported. Splitting
// happens on raw bytes, so a multi-byte character cut across two network reads
// is rejoined before the line is returned.
type LineDecoder struct {
	r *bufio.Reader

	// pending holds a read error that arrived together with the last line.
	pending error
}

// NewLineDecoder returns a LineDecoder reading from src.
func NewLineDecoder(src io.Reader) *LineDecoder {
	return &LineDecoder{r: bufio.NewReaderSize(src, 32*1024)}
}

// Next returns the payload of the next data line with the prefix stripped.
// It returns io.EOF once the stream is exhausted; a final line without a
// trailing newline is still returned first. Any other error comes from the
// underlying reader.
func (d *LineDecoder) Next() (string, error) {
	if d.pending != nil {
		return "", d.pending
	}

	for {
		line, err := d.r.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")

			if payload, ok := strings.CutPrefix(line, DataPrefix); ok {
				d.pending = err
				return payload, nil
			}
		}

		if err != nil {
			d.pending = err
			return "", err
		}
	}
}
