// Package stream turns the provider's server-sent event stream into the
// client-facing event protocol. The pipeline is explicit: a Decoder
// reads frames from the provider body, an Adapter translates them into
// Events and an accumulated assistant message, and a Sink delivers
// Events to the client.
package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// Frame is one dispatched server-sent event.
type Frame struct {
	Event string
	Data  []byte
}

// Decoder reads SSE frames from r. Lines are reassembled across reads
// of any size, so a frame split over network chunks (including inside
// a multi-byte character) decodes exactly as if it arrived whole.
type Decoder struct {
	r *bufio.Reader

	event   string
	data    bytes.Buffer
	hasData bool
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 32*1024)}
}

// Next returns the next frame. It returns io.EOF when the stream ends
// cleanly; a frame still pending at EOF is returned first.
func (d *Decoder) Next() (Frame, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Frame{}, err
		}
		atEOF := err != nil

		if len(line) > 0 || !atEOF {
			line = bytes.TrimSuffix(line, []byte("\n"))
			line = bytes.TrimSuffix(line, []byte("\r"))
			if len(line) == 0 {
				if f, ok := d.dispatch(); ok {
					return f, nil
				}
			} else {
				d.field(line)
			}
		}

		if atEOF {
			if f, ok := d.dispatch(); ok {
				return f, nil
			}
			return Frame{}, io.EOF
		}
	}
}

func (d *Decoder) field(line []byte) {
	if line[0] == ':' {
		return // comment
	}
	name, value, _ := bytes.Cut(line, []byte(":"))
	value = bytes.TrimPrefix(value, []byte(" "))

	switch string(name) {
	case "event":
		d.event = string(value)
	case "data":
		if d.hasData {
			d.data.WriteByte('\n')
		}
		d.data.Write(value)
		d.hasData = true
	}
}

func (d *Decoder) dispatch() (Frame, bool) {
	if !d.hasData {
		d.event = ""
		return Frame{}, false
	}
	f := Frame{Event: d.event, Data: bytes.Clone(d.data.Bytes())}
	d.event = ""
	d.data.Reset()
	d.hasData = false
	return f, true
}
