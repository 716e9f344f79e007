// Package httputil writes JSON and RFC 7807 problem-details responses and
// decodes request bodies. Handlers never build error bodies themselves.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/requestcontext"
)

// ProblemContentType is the media type of every error body.
const ProblemContentType = "application/problem+json"

// DefaultMaxBodyBytes bounds DecodeJSON when the caller passes no limit.
const DefaultMaxBodyBytes int64 = 1 << 20

// ErrorResponse is an RFC 7807 problem details document with the extension
// members code, request_id and errors.
type ErrorResponse struct {
	Type      string               `json:"type"`
	Title     string               `json:"title"`
	Status    int                  `json:"status"`
	Detail    string               `json:"detail,omitempty"`
	Instance  string               `json:"instance,omitempty"`
	Code      string               `json:"code"`
	RequestID string               `json:"request_id,omitempty"`
	Errors    []dErrors.FieldError `json:"errors,omitempty"`
}

type problemKind struct {
	status int
	title  string
}

var problemKinds = map[dErrors.Code]problemKind{
	dErrors.CodeBadRequest:         {http.StatusBadRequest, "Bad Request"},
	dErrors.CodeInvalidInput:       {http.StatusBadRequest, "Bad Request"},
	dErrors.CodeValidation:         {http.StatusUnprocessableEntity, "Validation Failed"},
	dErrors.CodeInvariantViolation: {http.StatusUnprocessableEntity, "Validation Failed"},
	dErrors.CodeUnauthorized:       {http.StatusUnauthorized, "Unauthorized"},
	dErrors.CodeForbidden:          {http.StatusForbidden, "Forbidden"},
	dErrors.CodeNotFound:           {http.StatusNotFound, "Not Found"},
	dErrors.CodeConflict:           {http.StatusConflict, "Conflict"},
	dErrors.CodePreconditionFailed: {http.StatusPreconditionFailed, "Precondition Failed"},
	dErrors.CodeRateLimited:        {http.StatusTooManyRequests, "Too Many Requests"},
	dErrors.CodeInternal:           {http.StatusInternalServerError, "Internal Server Error"},
	dErrors.CodeUnavailable:        {http.StatusServiceUnavailable, "Service Unavailable"},
}

// StatusFor maps a domain error code to its HTTP status.
func StatusFor(code dErrors.Code) int {
	if k, ok := problemKinds[code]; ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// ProblemType returns the type URI for a code.
func ProblemType(code dErrors.Code) string {
	return "https://errors.myapi.dev/" + string(code)
}

// Problem builds the problem document for err. Internal errors never carry
// their message to the client.
func Problem(r *http.Request, err error) ErrorResponse {
	code := dErrors.CodeOf(err)
	kind, ok := problemKinds[code]
	if !ok {
		code = dErrors.CodeInternal
		kind = problemKinds[code]
	}
	resp := ErrorResponse{
		Type:   ProblemType(code),
		Title:  kind.title,
		Status: kind.status,
		Code:   string(code),
	}
	if de, ok := dErrors.As(err); ok && code != dErrors.CodeInternal {
		resp.Detail = de.Message
		resp.Errors = de.Fields
	}
	if r != nil {
		resp.Instance = r.URL.Path
		resp.RequestID = requestcontext.RequestID(r.Context())
	}
	return resp
}

// WriteError renders err as application/problem+json.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	WriteProblem(w, Problem(r, err))
}

// WriteProblem writes an already-built problem document.
func WriteProblem(w http.ResponseWriter, p ErrorResponse) {
	w.Header().Set("Content-Type", ProblemContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteRateLimited writes a 429 problem with a Retry-After header.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration, detail string) {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteError(w, r, dErrors.New(dErrors.CodeRateLimited, detail))
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes a single JSON document from the body into dst. Unknown
// fields, trailing data and bodies larger than maxBytes are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "request body too large")
		case errors.Is(err, io.EOF):
			return dErrors.New(dErrors.CodeBadRequest, "request body is required")
		default:
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed JSON body: "+err.Error())
		}
	}
	if dec.More() {
		return dErrors.New(dErrors.CodeBadRequest, "request body must contain a single JSON document")
	}
	return nil
}
