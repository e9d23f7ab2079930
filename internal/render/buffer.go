package render

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"
)

// captureLimit bounds how much of each output stream is kept.
const captureLimit = 64 * 1024

// ringBuffer keeps the most recent size bytes written to it.
type ringBuffer struct {
	buf  []byte
	size int
	head int // write position
	full bool
	mu   sync.Mutex
}

func newRingBuffer(size int) *ringBuffer {
	if size <= 0 {
		size = captureLimit
	}
	return &ringBuffer{buf: make([]byte, size), size: size}
}

// Write implements io.Writer. When full, the oldest bytes are overwritten.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n >= rb.size {
		copy(rb.buf, p[n-rb.size:])
		rb.head = 0
		rb.full = true
		return n, nil
	}

	c := copy(rb.buf[rb.head:], p)
	if c < n {
		copy(rb.buf, p[c:])
	}
	next := (rb.head + n) % rb.size
	if rb.head+n >= rb.size {
		rb.full = true
	}
	rb.head = next
	return n, nil
}

func (rb *ringBuffer) String() string {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.full {
		return string(rb.buf[:rb.head])
	}
	out := make([]byte, 0, rb.size)
	out = append(out, rb.buf[rb.head:]...)
	out = append(out, rb.buf[:rb.head]...)
	// The overwrite may have cut a multi-byte rune at the front.
	for i := 0; i < utf8.UTFMax-1 && len(out) > 0 && !utf8.RuneStart(out[0]); i++ {
		out = out[1:]
	}
	return string(out)
}

func (rb *ringBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.full {
		return rb.size
	}
	return rb.head
}

// capture records one output stream and forwards complete lines.
type capture struct {
	stream string
	ring   *ringBuffer
	emit   func(stream, line string)

	mu      sync.Mutex
	partial []byte
}

func newCapture(stream string, emit func(stream, line string)) *capture {
	return &capture{stream: stream, ring: newRingBuffer(captureLimit), emit: emit}
}

func (c *capture) Write(p []byte) (int, error) {
	n, _ := c.ring.Write(p)
	if c.emit == nil {
		return n, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.partial = append(c.partial, p...)
	for {
		i := bytes.IndexAny(c.partial, "\r\n")
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(c.partial[:i]), " \t")
		c.partial = c.partial[i+1:]
		if line != "" {
			c.emit(c.stream, line)
		}
	}
	if len(c.partial) > captureLimit {
		c.partial = c.partial[len(c.partial)-captureLimit:]
	}
	return n, nil
}

// Flush forwards any trailing unterminated line.
func (c *capture) Flush() {
	if c.emit == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if line := strings.TrimSpace(string(c.partial)); line != "" {
		c.emit(c.stream, line)
	}
	c.partial = nil
}

func (c *capture) String() string {
	return c.ring.String()
}
