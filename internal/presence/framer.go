package presence

import (
	"bytes"
	"fmt"

	"github.com/Badareenadh/sip-event-processor/internal/model"
)

// MaxBufferBytes bounds the framer's internal buffer; a feed that never
// produces a closing tag within this many bytes is treated as corrupt.
const MaxBufferBytes = 1 << 20 // 1 MiB

// ErrBufferOverflow is returned by Feed when the internal buffer exceeds
// MaxBufferBytes without completing a frame.
var ErrBufferOverflow = fmt.Errorf("presence framer: buffer overflow")

// Frame is one parsed <CallStateEvent> or <Heartbeat> element.
type Frame struct {
	IsHeartbeat bool
	Event       model.CallStateEvent
}

// Framer incrementally scans a byte stream for complete, non-nested
// <CallStateEvent>...</CallStateEvent> and <Heartbeat>...</Heartbeat>
// frames, buffering partial frames across Feed calls.
type Framer struct {
	buf bytes.Buffer
}

// NewFramer returns an empty framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Reset discards any buffered partial frame, used after ErrBufferOverflow
// or on reconnect.
func (f *Framer) Reset() {
	f.buf.Reset()
}

// Feed appends chunk to the internal buffer and extracts every complete
// frame found. Trailing bytes before the next '<' are discarded so garbage
// prefixes cannot grow the buffer unbounded. Returns ErrBufferOverflow if
// the buffer exceeds MaxBufferBytes without completing a frame; callers
// must call Reset after that.
func (f *Framer) Feed(chunk []byte) ([]Frame, error) {
	f.buf.Write(chunk)

	var frames []Frame
	for {
		data := f.buf.Bytes()

		start := bytes.IndexByte(data, '<')
		if start < 0 {
			f.buf.Reset()
			break
		}
		if start > 0 {
			data = data[start:]
			f.buf.Next(start)
		}

		tag, ok := openingTag(data)
		if !ok {
			break
		}

		closeTag := []byte("</" + tag + ">")
		end := bytes.Index(data, closeTag)
		if end < 0 {
			break
		}
		frameEnd := end + len(closeTag)
		frameBytes := data[:frameEnd]

		switch tag {
		case "CallStateEvent":
			if ev, ok := parseCallStateEvent(frameBytes); ok {
				frames = append(frames, Frame{Event: ev})
			}
		case "Heartbeat":
			frames = append(frames, Frame{IsHeartbeat: true})
		}

		f.buf.Next(frameEnd)

		if f.buf.Len() == 0 {
			break
		}
	}

	if f.buf.Len() > MaxBufferBytes {
		return frames, ErrBufferOverflow
	}
	return frames, nil
}

// openingTag returns the element name of the first tag in data, e.g.
// "CallStateEvent" for "<CallStateEvent attr=\"x\">...".
func openingTag(data []byte) (string, bool) {
	if len(data) == 0 || data[0] != '<' {
		return "", false
	}
	end := bytes.IndexAny(data, " \t\r\n>")
	if end < 0 {
		return "", false
	}
	return string(data[1:end]), true
}

func parseCallStateEvent(frame []byte) (model.CallStateEvent, bool) {
	ev := model.CallStateEvent{
		PresenceCallID: childText(frame, "CallId"),
		CallerURI:      childText(frame, "CallerUri"),
		CalleeURI:      childText(frame, "CalleeUri"),
		Direction:      childText(frame, "Direction"),
		TenantID:       childText(frame, "TenantId"),
		Timestamp:      childText(frame, "Timestamp"),
	}
	stateRaw := childText(frame, "State")
	ev.State = model.ParseCallState(stateRaw)

	if ev.PresenceCallID == "" {
		return ev, false
	}
	if ev.CallerURI == "" && ev.CalleeURI == "" {
		return ev, false
	}
	if ev.State == model.CallStateUnknown {
		return ev, false
	}
	return ev, true
}

// childText extracts the trimmed text of <name>...</name> from within
// frame, order-free among siblings, tolerant of unknown surrounding
// elements.
func childText(frame []byte, name string) string {
	open := []byte("<" + name + ">")
	closing := []byte("</" + name + ">")
	start := bytes.Index(frame, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := bytes.Index(frame[start:], closing)
	if end < 0 {
		return ""
	}
	return string(bytes.TrimSpace(frame[start : start+end]))
}
