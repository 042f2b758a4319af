package platform

import "time"

// WithRequestsPerSecond sets the client's outbound pacing rate.
func WithRequestsPerSecond(n float64) ClientOptions {
	return func(o *clientOptions) {
		o.requestsPerSecond = n
	}
}

// WithResponseTimeout sets the response timeout for the client when waiting for a response from the server.
func WithResponseTimeout(d time.Duration) ClientOptions {
	return func(o *clientOptions) {
		o.responseTimeout = d
	}
}

// WithInitialRetryPeriod sets the initial retry period for the client, for exponential backoff retries.
func WithInitialRetryPeriod(d time.Duration) ClientOptions {
	return func(o *clientOptions) {
		o.initialRetryPeriod = d
	}
}

// WithMaxRetryPeriod sets the maximum retry period for the client, for exponential backoff retries.
func WithMaxRetryPeriod(d time.Duration) ClientOptions {
	return func(o *clientOptions) {
		o.maxRetryPeriod = d
	}
}
