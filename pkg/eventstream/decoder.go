// Package eventstream decodes the line-framed event stream produced by the
// upstream model gateway into incremental text deltas.
//
// The framing is a subset of Server-Sent Events: lines are separated by
// "\n", a trailing "\r" is dropped, lines starting with ":" are comments,
// blank lines separate records, and data lines carry a "data: " prefix.
// The payload "[DONE]" ends the stream; any other payload is a JSON chunk of
// the shape {"choices":[{"delta":{"content":"..."}}]}.
package eventstream

import (
	"bytes"
	"encoding/json"
)

// DefaultPartialLimit bounds a single line and a payload held for re-parse.
const DefaultPartialLimit = 64 * 1024

const donePayload = "[DONE]"

var dataPrefix = []byte("data: ")

type State int

const (
	StateBuffering = State(iota)
	StateLineReady
	StateDone
)

func (s State) String() string {
	switch s {
	case StateBuffering:
		return "buffering"
	case StateLineReady:
		return "line-ready"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventDelta = EventKind(iota)
	EventDone
	// EventDiscarded reports bytes dropped as unrecoverable. Raw holds them.
	EventDiscarded
)

type Event struct {
	Kind  EventKind
	Delta string
	Raw   string
}

// Buffer is the complete decoder state between two chunks.
type Buffer struct {
	// Text holds bytes that do not form a complete line yet, including an
	// incomplete trailing UTF-8 sequence.
	Text []byte
	// Partial holds a data payload that failed to parse and waits for the
	// continuation of the line it was split from.
	Partial []byte
	// Overflow is set while the rest of an oversize line is being skipped.
	Overflow bool
	State    State
	// Limit caps line and partial sizes; zero means DefaultPartialLimit.
	Limit int
}

func (b Buffer) limit() int {
	if b.Limit <= 0 {
		return DefaultPartialLimit
	}
	return b.Limit
}

// Step appends chunk to the buffered text, decodes every complete line and
// returns the produced events with the state to use for the next chunk.
// Neither argument is modified. Once the state is StateDone every further
// chunk is ignored.
func Step(buf Buffer, chunk []byte) ([]Event, Buffer) {
	if buf.State == StateDone {
		return nil, buf
	}
	limit := buf.limit()

	text := make([]byte, 0, len(buf.Text)+len(chunk))
	text = append(text, buf.Text...)
	text = append(text, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(text, '\n')
		if i < 0 {
			break
		}
		line := text[:i]
		text = text[i+1:]
		buf.State = StateLineReady

		if buf.Overflow {
			buf.Overflow = false
			continue
		}
		if len(line) > limit {
			events = append(events, discarded(line))
			continue
		}
		events = buf.decodeLine(line, events, limit)
		if buf.State == StateDone {
			buf.Text = nil
			return events, buf
		}
	}

	switch {
	case buf.Overflow:
		text = nil
	case len(text) > limit:
		events = append(events, discarded(text))
		buf.Overflow = true
		text = nil
	}
	buf.Text = text
	buf.State = StateBuffering
	return events, buf
}

func (b *Buffer) decodeLine(line []byte, events []Event, limit int) []Event {
	line = bytes.TrimSuffix(line, []byte("\r"))

	if b.Partial != nil {
		joined := make([]byte, 0, len(b.Partial)+len(line))
		joined = append(joined, b.Partial...)
		joined = append(joined, line...)
		if delta, ok := parsePayload(joined); ok {
			b.Partial = nil
			return appendDelta(events, delta)
		}
		if !bytes.HasPrefix(line, dataPrefix) {
			if len(joined) > limit {
				b.Partial = nil
				return append(events, discarded(joined))
			}
			b.Partial = joined
			return events
		}
		events = append(events, discarded(b.Partial))
		b.Partial = nil
	}

	if len(line) == 0 || line[0] == ':' {
		return events
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		return events
	}

	// Trailing whitespace is kept on a partial: it may sit inside a JSON
	// string that continues on the next line.
	payload := bytes.TrimLeft(line[len(dataPrefix):], " \t")
	if string(bytes.TrimSpace(payload)) == donePayload {
		b.State = StateDone
		return append(events, Event{Kind: EventDone})
	}
	delta, ok := parsePayload(payload)
	if !ok {
		b.Partial = bytes.Clone(payload)
		return events
	}
	return appendDelta(events, delta)
}

// parsePayload reports false only for payloads that are not valid JSON.
// Valid JSON of another shape carries no delta.
func parsePayload(payload []byte) (string, bool) {
	payload = bytes.TrimSpace(payload)
	if !json.Valid(payload) {
		return "", false
	}
	var chunk deltaChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", true
	}
	if len(chunk.Choices) == 0 {
		return "", true
	}
	return chunk.Choices[0].Delta.Content, true
}

// deltaChunk holds only the fields a delta is read from, so a mistyped
// id, created or usage field does not hide the content.
type deltaChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func appendDelta(events []Event, delta string) []Event {
	if delta == "" {
		return events
	}
	return append(events, Event{Kind: EventDelta, Delta: delta})
}

func discarded(raw []byte) Event {
	return Event{Kind: EventDiscarded, Raw: string(raw)}
}

// Decoder is a stateful wrapper around Step for one stream.
type Decoder struct {
	buf Buffer
}

// NewDecoder returns a decoder whose line and partial sizes are capped at
// limit bytes; a non-positive limit selects DefaultPartialLimit.
func NewDecoder(limit int) *Decoder {
	return &Decoder{buf: Buffer{Limit: limit}}
}

func (d *Decoder) Write(chunk []byte) []Event {
	var events []Event
	events, d.buf = Step(d.buf, chunk)
	return events
}

// Flush decodes an unterminated final line once the transport reports a
// clean end of stream and gives up on any payload still waiting for its
// continuation.
func (d *Decoder) Flush() []Event {
	if d.buf.State == StateDone {
		return nil
	}
	var events []Event
	if len(d.buf.Text) > 0 && !d.buf.Overflow {
		events, d.buf = Step(d.buf, []byte{'\n'})
	}
	if d.buf.State != StateDone && d.buf.Partial != nil {
		events = append(events, discarded(d.buf.Partial))
		d.buf.Partial = nil
	}
	d.buf.Text = nil
	d.buf.Overflow = false
	return events
}

func (d *Decoder) Done() bool {
	return d.buf.State == StateDone
}

func (d *Decoder) State() State {
	return d.buf.State
}
