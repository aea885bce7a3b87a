package ledger

import (
	"context"
	"net/http"
	"sync"

	"github.com/tickettoken/ticket-indexer/boff"
)

// The JSON-RPC client reports non-2xx responses without their headers, so the
// transport remembers the last throttling or server failure of a call in the
// request context. The client turns it back into a boff.StatusError, which
// keeps Retry-After available to the retry policy.

type statusCaptureKey struct{}

type statusCapture struct {
	mu  sync.Mutex
	err *boff.StatusError
}

func withStatusCapture(ctx context.Context) (context.Context, *statusCapture) {
	c := &statusCapture{}
	return context.WithValue(ctx, statusCaptureKey{}, c), c
}

func (c *statusCapture) set(err *boff.StatusError) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *statusCapture) get() *boff.StatusError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

type statusTransport struct {
	base http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		if c, ok := req.Context().Value(statusCaptureKey{}).(*statusCapture); ok {
			c.set(&boff.StatusError{StatusCode: resp.StatusCode, Header: resp.Header.Clone()})
		}
	}

	return resp, nil
}
