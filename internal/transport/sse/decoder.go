package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"job-status-stream/internal/stream"
)

const maxLineSize = 1 << 20

// Decoder splits a text/event-stream body into frames.
type Decoder struct {
	sc *bufio.Scanner
	// Retry is the last reconnection hint sent by the server, zero when none.
	Retry  time.Duration
	lastID string
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &Decoder{sc: sc}
}

// Next returns the next dispatched frame. Comment lines (heartbeats) are skipped and an
// event without data lines is discarded. io.EOF is returned when the body ends.
func (d *Decoder) Next() (stream.Frame, error) {
	var (
		event   string
		data    strings.Builder
		hasData bool
	)

	for d.sc.Scan() {
		line := strings.TrimSuffix(d.sc.Text(), "\r")

		if line == "" {
			if !hasData {
				event = ""
				continue
			}
			return stream.Frame{Event: event, Data: data.String(), ID: d.lastID}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				d.lastID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				d.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if err := d.sc.Err(); err != nil {
		return stream.Frame{}, err
	}
	return stream.Frame{}, io.EOF
}
