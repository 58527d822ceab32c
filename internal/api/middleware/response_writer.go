// Package middleware provides Gin HTTP middleware for the messages proxy.
// It includes a response writer wrapper that captures request and response
// data for logging, including streaming responses, without adding latency
// to the client.
package middleware

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/antigravity-proxy/messages-proxy/internal/interfaces"
	"github.com/antigravity-proxy/messages-proxy/internal/logging"
	"github.com/gin-gonic/gin"
)

const requestBodyOverrideContextKey = "REQUEST_BODY_OVERRIDE"

// RequestInfo holds essential details of an incoming HTTP request for
// logging purposes.
type RequestInfo struct {
	URL       string
	Method    string
	Headers   map[string][]string
	Body      []byte
	RequestID string
	Timestamp time.Time
}

// ResponseWriterWrapper wraps the standard gin.ResponseWriter to intercept
// and log response data, for both standard and streaming responses.
type ResponseWriterWrapper struct {
	gin.ResponseWriter
	body                *bytes.Buffer
	isStreaming         bool
	streamWriter        logging.StreamingLogWriter
	chunkChannel        chan []byte
	streamDone          chan struct{}
	logger              logging.RequestLogger
	requestInfo         *RequestInfo
	statusCode          int
	headers             map[string][]string
	logOnErrorOnly      bool
	firstChunkTimestamp time.Time
}

// NewResponseWriterWrapper creates and initializes a new ResponseWriterWrapper.
func NewResponseWriterWrapper(w gin.ResponseWriter, logger logging.RequestLogger, requestInfo *RequestInfo) *ResponseWriterWrapper {
	return &ResponseWriterWrapper{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		logger:         logger,
		requestInfo:    requestInfo,
		headers:        make(map[string][]string),
	}
}

// Write captures response data after writing it to the client, so logging
// never adds latency to the response path.
func (w *ResponseWriterWrapper) Write(data []byte) (int, error) {
	w.ensureHeadersCaptured()

	n, err := w.ResponseWriter.Write(data)

	if w.isStreaming && w.chunkChannel != nil {
		if w.firstChunkTimestamp.IsZero() {
			w.firstChunkTimestamp = time.Now()
		}
		select {
		case w.chunkChannel <- append([]byte(nil), data...):
		default:
		}
		return n, err
	}

	if w.shouldBufferResponseBody() {
		w.body.Write(data)
	}

	return n, err
}

func (w *ResponseWriterWrapper) shouldBufferResponseBody() bool {
	if w.logger != nil && w.logger.IsEnabled() {
		return true
	}
	if !w.logOnErrorOnly {
		return false
	}
	status := w.statusCode
	if status == 0 {
		if statusWriter, ok := w.ResponseWriter.(interface{ Status() int }); ok && statusWriter != nil {
			status = statusWriter.Status()
		} else {
			status = http.StatusOK
		}
	}
	return status >= http.StatusBadRequest
}

// WriteString covers handlers that write via io.StringWriter instead of Write.
func (w *ResponseWriterWrapper) WriteString(data string) (int, error) {
	w.ensureHeadersCaptured()

	n, err := w.ResponseWriter.WriteString(data)

	if w.isStreaming && w.chunkChannel != nil {
		if w.firstChunkTimestamp.IsZero() {
			w.firstChunkTimestamp = time.Now()
		}
		select {
		case w.chunkChannel <- []byte(data):
		default:
		}
		return n, err
	}

	if w.shouldBufferResponseBody() {
		w.body.WriteString(data)
	}
	return n, err
}

// WriteHeader captures the status code, detects a streaming response from
// its Content-Type, and opens the streaming log writer when logging is on.
func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.captureCurrentHeaders()

	contentType := w.ResponseWriter.Header().Get("Content-Type")
	w.isStreaming = w.detectStreaming(contentType)

	if w.isStreaming && w.logger.IsEnabled() {
		streamWriter, err := w.logger.LogStreamingRequest(
			w.requestInfo.URL,
			w.requestInfo.Method,
			w.requestInfo.Headers,
			w.requestInfo.Body,
			w.requestInfo.RequestID,
		)
		if err == nil {
			w.streamWriter = streamWriter
			w.chunkChannel = make(chan []byte, 100)
			doneChan := make(chan struct{})
			w.streamDone = doneChan
			go w.processStreamingChunks(doneChan)
			_ = streamWriter.WriteStatus(statusCode, w.headers)
		}
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *ResponseWriterWrapper) ensureHeadersCaptured() {
	w.captureCurrentHeaders()
}

func (w *ResponseWriterWrapper) captureCurrentHeaders() {
	if w.headers == nil {
		w.headers = make(map[string][]string)
	}
	for key, values := range w.ResponseWriter.Header() {
		headerValues := make([]string, len(values))
		copy(headerValues, values)
		w.headers[key] = headerValues
	}
}

// detectStreaming recognizes an SSE response by Content-Type, falling back
// to the request's "stream" flag only while no Content-Type has been set yet.
func (w *ResponseWriterWrapper) detectStreaming(contentType string) bool {
	if strings.Contains(contentType, "text/event-stream") {
		return true
	}
	if strings.TrimSpace(contentType) != "" {
		return false
	}
	if w.requestInfo != nil && len(w.requestInfo.Body) > 0 {
		return bytes.Contains(w.requestInfo.Body, []byte(`"stream": true`)) ||
			bytes.Contains(w.requestInfo.Body, []byte(`"stream":true`))
	}
	return false
}

func (w *ResponseWriterWrapper) processStreamingChunks(done chan struct{}) {
	if done == nil {
		return
	}
	defer close(done)
	if w.streamWriter == nil || w.chunkChannel == nil {
		return
	}
	for chunk := range w.chunkChannel {
		w.streamWriter.WriteChunkAsync(chunk)
	}
}

// Finalize closes out the streaming log writer, or logs the buffered
// non-streaming request/response pair, picking up the upstream request and
// response a handler stashed on the gin context.
func (w *ResponseWriterWrapper) Finalize(c *gin.Context) error {
	if w.logger == nil {
		return nil
	}

	finalStatusCode := w.statusCode
	if finalStatusCode == 0 {
		if statusWriter, ok := w.ResponseWriter.(interface{ Status() int }); ok {
			finalStatusCode = statusWriter.Status()
		} else {
			finalStatusCode = http.StatusOK
		}
	}

	var apiResponseErrors []*interfaces.ErrorMessage
	if raw, ok := c.Get("API_RESPONSE_ERROR"); ok {
		if errs, ok := raw.([]*interfaces.ErrorMessage); ok {
			apiResponseErrors = errs
		}
	}

	hasAPIError := len(apiResponseErrors) > 0 || finalStatusCode >= http.StatusBadRequest
	forceLog := w.logOnErrorOnly && hasAPIError && !w.logger.IsEnabled()
	if !w.logger.IsEnabled() && !forceLog {
		return nil
	}

	if w.isStreaming && w.streamWriter != nil {
		if w.chunkChannel != nil {
			close(w.chunkChannel)
			w.chunkChannel = nil
		}
		if w.streamDone != nil {
			<-w.streamDone
			w.streamDone = nil
		}
		w.streamWriter.SetFirstChunkTimestamp(w.firstChunkTimestamp)

		if apiRequest := w.extractAPIRequest(c); len(apiRequest) > 0 {
			_ = w.streamWriter.WriteAPIRequest(apiRequest)
		}
		if apiResponse := w.extractAPIResponse(c); len(apiResponse) > 0 {
			_ = w.streamWriter.WriteAPIResponse(apiResponse)
		}
		if err := w.streamWriter.Close(); err != nil {
			w.streamWriter = nil
			return err
		}
		w.streamWriter = nil
		return nil
	}

	return w.logRequest(w.extractRequestBody(c), finalStatusCode, w.cloneHeaders(), w.body.Bytes(), w.extractAPIRequest(c), w.extractAPIResponse(c), w.extractAPIResponseTimestamp(c), apiResponseErrors, forceLog)
}

func (w *ResponseWriterWrapper) cloneHeaders() map[string][]string {
	w.ensureHeadersCaptured()
	out := make(map[string][]string, len(w.headers))
	for key, values := range w.headers {
		headerValues := make([]string, len(values))
		copy(headerValues, values)
		out[key] = headerValues
	}
	return out
}

func (w *ResponseWriterWrapper) extractAPIRequest(c *gin.Context) []byte {
	raw, ok := c.Get("API_REQUEST")
	if !ok {
		return nil
	}
	data, ok := raw.([]byte)
	if !ok || len(data) == 0 {
		return nil
	}
	return data
}

func (w *ResponseWriterWrapper) extractAPIResponse(c *gin.Context) []byte {
	raw, ok := c.Get("API_RESPONSE")
	if !ok {
		return nil
	}
	data, ok := raw.([]byte)
	if !ok || len(data) == 0 {
		return nil
	}
	return data
}

func (w *ResponseWriterWrapper) extractAPIResponseTimestamp(c *gin.Context) time.Time {
	raw, ok := c.Get("API_RESPONSE_TIMESTAMP")
	if !ok {
		return time.Time{}
	}
	if t, ok := raw.(time.Time); ok {
		return t
	}
	return time.Time{}
}

func (w *ResponseWriterWrapper) extractRequestBody(c *gin.Context) []byte {
	if c != nil {
		if override, ok := c.Get(requestBodyOverrideContextKey); ok {
			switch value := override.(type) {
			case []byte:
				if len(value) > 0 {
					return bytes.Clone(value)
				}
			case string:
				if strings.TrimSpace(value) != "" {
					return []byte(value)
				}
			}
		}
	}
	if w.requestInfo != nil && len(w.requestInfo.Body) > 0 {
		return w.requestInfo.Body
	}
	return nil
}

func (w *ResponseWriterWrapper) logRequest(requestBody []byte, statusCode int, headers map[string][]string, body []byte, apiRequestBody, apiResponseBody []byte, apiResponseTimestamp time.Time, apiResponseErrors []*interfaces.ErrorMessage, forceLog bool) error {
	if w.requestInfo == nil {
		return nil
	}

	if loggerWithOptions, ok := w.logger.(interface {
		LogRequestWithOptions(string, string, map[string][]string, []byte, int, map[string][]string, []byte, []byte, []byte, []*interfaces.ErrorMessage, bool, string, time.Time, time.Time) error
	}); ok {
		return loggerWithOptions.LogRequestWithOptions(
			w.requestInfo.URL, w.requestInfo.Method, w.requestInfo.Headers, requestBody,
			statusCode, headers, body, apiRequestBody, apiResponseBody, apiResponseErrors,
			forceLog, w.requestInfo.RequestID, w.requestInfo.Timestamp, apiResponseTimestamp,
		)
	}

	return w.logger.LogRequest(
		w.requestInfo.URL, w.requestInfo.Method, w.requestInfo.Headers, requestBody,
		statusCode, headers, body, apiRequestBody, apiResponseBody, apiResponseErrors,
		w.requestInfo.RequestID, w.requestInfo.Timestamp, apiResponseTimestamp,
	)
}
