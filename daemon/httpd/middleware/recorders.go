package middleware

import (
	"net/http"
	"time"
)

// ResponseRecorder is an http.ResponseWriter that remembers the status code, size, and timing of the response.
type ResponseRecorder struct {
	http.ResponseWriter
	statusCode           int
	totalWritten         int
	timestampAtWriteCall time.Time
}

// NewResponseRecorder wraps the response writer. The status code is 200 OK until the handler writes another.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader memorises the status code in the recorder and then invokes the underlying ResponseWriter using the same status code.
func (rec *ResponseRecorder) WriteHeader(statusCode int) {
	rec.statusCode = statusCode
	rec.ResponseWriter.WriteHeader(statusCode)
}

// Write memorises the time-to-1st-byte and accumulated size of the response, and then invokes the underlying ResponseWriter using the same data buffer.
func (rec *ResponseRecorder) Write(b []byte) (int, error) {
	if rec.timestampAtWriteCall.IsZero() {
		rec.timestampAtWriteCall = time.Now()
	}
	size, err := rec.ResponseWriter.Write(b)
	rec.totalWritten += size
	return size, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *ResponseRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

func (rec *ResponseRecorder) StatusCode() int {
	return rec.statusCode
}

func (rec *ResponseRecorder) TotalWritten() int {
	return rec.totalWritten
}

// TimeToFirstByte returns the duration between the begin time and the first write, or 0 if nothing was written.
func (rec *ResponseRecorder) TimeToFirstByte(begin time.Time) time.Duration {
	if rec.timestampAtWriteCall.IsZero() {
		return 0
	}
	return rec.timestampAtWriteCall.Sub(begin)
}
