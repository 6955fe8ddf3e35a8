package lalog

import (
	"io"
	"sync"
	"unicode"
)

/*
ByteLogWriter forwards verbatim bytes to an optional destination writer and memorises the designated number of latest
bytes for later retrieval. It implements io.Writer.
*/
type ByteLogWriter struct {
	MaxBytes    int       // MaxBytes is the number of latest bytes to memorise.
	destination io.Writer // destination receives verbatim copy of the written bytes, it may be nil.
	mutex       sync.Mutex
	latest      []byte // latest is a circular buffer of up to MaxBytes bytes.
	pos         int    // pos is the position in latest to write next at.
	full        bool   // full is true once latest has wrapped around.
}

// NewByteLogWriter initialises a new ByteLogWriter and returns it.
func NewByteLogWriter(destination io.Writer, maxBytes int) *ByteLogWriter {
	if maxBytes < 1 {
		maxBytes = 1
	}
	return &ByteLogWriter{
		MaxBytes:    maxBytes,
		destination: destination,
		latest:      make([]byte, maxBytes),
	}
}

func (writer *ByteLogWriter) absorb(in []byte) {
	if len(in) >= writer.MaxBytes {
		copy(writer.latest, in[len(in)-writer.MaxBytes:])
		writer.pos = 0
		writer.full = true
		return
	}
	n := copy(writer.latest[writer.pos:], in)
	if n < len(in) {
		writer.pos = copy(writer.latest, in[n:])
		writer.full = true
		return
	}
	writer.pos += n
	if writer.pos == writer.MaxBytes {
		writer.pos = 0
		writer.full = true
	}
}

// Retrieve returns a copy of the latest bytes written. If asciiOnly is true, non-printable bytes become '?'.
func (writer *ByteLogWriter) Retrieve(asciiOnly bool) []byte {
	writer.mutex.Lock()
	var ret []byte
	if writer.full {
		ret = make([]byte, 0, writer.MaxBytes)
		ret = append(ret, writer.latest[writer.pos:]...)
		ret = append(ret, writer.latest[:writer.pos]...)
	} else {
		ret = make([]byte, writer.pos)
		copy(ret, writer.latest[:writer.pos])
	}
	writer.mutex.Unlock()
	if asciiOnly {
		for i, b := range ret {
			if b >= 128 || (!unicode.IsPrint(rune(b)) && !unicode.IsSpace(rune(b))) {
				ret[i] = '?'
			}
		}
	}
	return ret
}

// Write memorises the bytes and forwards them to the destination writer.
func (writer *ByteLogWriter) Write(p []byte) (n int, err error) {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	writer.absorb(p)
	if writer.destination == nil {
		return len(p), nil
	}
	return writer.destination.Write(p)
}
