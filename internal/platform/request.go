// Package platform implements the outbound client for the remote commerce
// platform API and the request reliability layer every call depends on:
// idempotency keys, retry bookkeeping and rate-limit usage accounting.
package platform

import (
	"sort"
	"sync"

	"github.com/feedbridge/feedbridge/internal/constants"
	"github.com/google/uuid"
)

// Request is one logical outbound API call. Concrete request types embed the
// IdempotentRequest and RetryTracker capabilities as needed.
type Request interface {
	// Method returns the HTTP method of the request.
	Method() string
	// Endpoint returns the request path relative to the API base URL.
	Endpoint() string
	// Payload returns the request body and its content type. A nil body is
	// allowed for requests without one.
	Payload() (body []byte, contentType string, err error)
}

// Idempotent is the capability of requests whose retries are provably safe to
// resend: the same key is attached to every retry of one logical request.
type Idempotent interface {
	IdempotencyKey() string
	ClearIdempotencyKey()
}

// Retryable is the capability of requests that carry retry bookkeeping.
type Retryable interface {
	RetryCount() int
	MarkRetry()
	RetryLimit() int
	RetryableCode(code int) bool
}

// IdempotentRequest provides a stable idempotency key for the lifetime of one
// logical request. The zero value is ready to use.
type IdempotentRequest struct {
	mu  sync.Mutex
	key string
}

// IdempotencyKey returns the request's idempotency key, lazily generating a
// version-4 UUID on first access. Subsequent calls on the same request return
// the identical key, so retries of the same logical operation never get a
// fresh one.
func (r *IdempotentRequest) IdempotencyKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.key == "" {
		r.key = uuid.NewString()
	}
	return r.key
}

// ClearIdempotencyKey clears the stored key, causing regeneration on the next
// access. It turns the request into a new logical operation.
func (r *IdempotentRequest) ClearIdempotencyKey() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.key = ""
}

// RetryTracker keeps the retry bookkeeping of one logical request. The zero
// value uses the default retry limit and treats no application error code as
// retryable: request types opt in explicitly, there is no global "retry
// everything" default.
type RetryTracker struct {
	mu    sync.Mutex
	count int
	limit int
	codes map[int]struct{}
}

// RetryCount returns the number of retries performed so far. It starts at 0.
func (t *RetryTracker) RetryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// MarkRetry increments the retry count by exactly one.
func (t *RetryTracker) MarkRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
}

// RetryLimit returns the maximum number of retries for this request.
func (t *RetryTracker) RetryLimit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit == 0 {
		return constants.DefaultRetryLimit
	}
	return t.limit
}

// SetRetryLimit overrides the default retry limit for this request type.
func (t *RetryTracker) SetRetryLimit(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limit = n
}

// SetRetryCodes declares the response codes this request type treats as
// retryable.
func (t *RetryTracker) SetRetryCodes(codes ...int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codes = make(map[int]struct{}, len(codes))
	for _, c := range codes {
		t.codes[c] = struct{}{}
	}
}

// RetryCodes returns the retryable response codes of this request type in a
// stable order.
func (t *RetryTracker) RetryCodes() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	codes := make([]int, 0, len(t.codes))
	for c := range t.codes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

// RetryableCode reports whether this request type opted in to retrying the
// given response code.
func (t *RetryTracker) RetryableCode(code int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.codes[code]
	return ok
}
