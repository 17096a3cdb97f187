package middleware

import (
	"net/http"
)

// ResponseRecorder wraps http.ResponseWriter to capture the status code and
// the number of bytes written, for the logging and metrics middleware.
type ResponseRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
	bytes      int64
}

// NewResponseRecorder creates a new ResponseRecorder
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (w *ResponseRecorder) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

// Write writes data to the response
func (w *ResponseRecorder) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Flush implements the http.Flusher interface
func (w *ResponseRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// StatusCode returns the captured status code
func (w *ResponseRecorder) StatusCode() int {
	return w.statusCode
}

// Written returns whether headers have been written
func (w *ResponseRecorder) Written() bool {
	return w.written
}

// BytesWritten returns the number of bytes written
func (w *ResponseRecorder) BytesWritten() int64 {
	return w.bytes
}

// Unwrap returns the underlying ResponseWriter for compatibility
func (w *ResponseRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
