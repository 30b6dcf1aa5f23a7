// Package httpclient builds tuned HTTP clients shared by the upstream
// adapters (template fetcher, TTS vendor, validator, KM). The LLM
// providers use their own HTTP clients.
package httpclient

import (
	"net/http"
	"time"
)

// New creates an http.Client with connection pooling and a tuned transport.
func New(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
