// Package requestor implements the Copernica client: issuing requests for
// named content with a timeout, collecting responses, and caching
// results across calls.
package requestor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/sjmackenzie/copernica-go/pkg/copconfig"
	"github.com/sjmackenzie/copernica-go/pkg/hbfi"
	"github.com/sjmackenzie/copernica-go/pkg/link"
	"github.com/sjmackenzie/copernica-go/pkg/wire"
)

// retryInitialInterval and retryMaxInterval bound the exponential backoff
// schedule used to re-send unanswered requests while a call's overall
// timeout (the only delivery guarantee the core offers — see spec.md §1)
// has not yet expired.
const (
	retryInitialInterval = 200 * time.Millisecond
	retryMultiplier      = 1.5
	retryMaxInterval     = 2 * time.Second
)

// Requestor issues Requests on a single outbound link and collects
// Responses, maintaining a local cache across calls so a repeated
// request for the same content never needs the network again.
type Requestor struct {
	link link.Link
	cfg  copconfig.Config
	log  *logrus.Entry

	mu    sync.Mutex
	cache map[hbfi.HBFI]wire.Response
}

// New constructs a Requestor that sends on and receives from l.
func New(l link.Link, cfg copconfig.Config) *Requestor {
	return &Requestor{
		link:  l,
		cfg:   cfg,
		log:   logrus.WithField("component", "requestor"),
		cache: make(map[hbfi.HBFI]wire.Response),
	}
}

// NameToHBFI parses a "publisher/name" string into the HBFI of its first
// chunk. A name with no "/" is treated as published under the empty
// identity. This convention lets Request's plain-string API address the
// two-part (publisher, name) identifier HBFI requires.
func NameToHBFI(name string) hbfi.HBFI {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return hbfi.New(name[i+1:], name[:i])
	}
	return hbfi.New(name, "")
}

// Request fetches every name, returning a result map with a non-nil
// *Response for every name that was answered (from the network or from
// the local cache) and nil for every name still unanswered when timeout
// elapses. A timeout of zero or less falls back to the Requestor's
// configured RequestTimeout.
//
// Per-HBFI this runs the state machine Idle -> Sent -> {Received |
// Cached | TimedOut}. Cached is the hot-path shortcut taken at entry.
// Concurrent requests for the same name within one call are deduplicated
// by the awaiting set. Responses for HBFIs not in the awaiting set are
// not discarded: they are inserted into the local cache for future
// calls.
func (r *Requestor) Request(names []string, timeout time.Duration) map[string]*wire.Response {
	results := make(map[string]*wire.Response, len(names))
	awaiting := make(map[hbfi.HBFI][]string)

	for _, name := range names {
		h := NameToHBFI(name)
		if resp, ok := r.cacheGet(h); ok {
			cached := resp
			results[name] = &cached
			continue
		}
		awaiting[h] = append(awaiting[h], name)
	}

	if len(awaiting) == 0 {
		return results
	}
	for h := range awaiting {
		r.send(h)
	}

	if timeout <= 0 {
		timeout = r.cfg.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.Multiplier = retryMultiplier
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = 0 // the context deadline is the single source of truth for giving up

	retry := time.NewTimer(bo.NextBackOff())
	defer retry.Stop()

loop:
	for len(awaiting) > 0 {
		select {
		case <-ctx.Done():
			break loop
		case <-retry.C:
			for h := range awaiting {
				r.send(h)
			}
			retry.Reset(bo.NextBackOff())
		case p, ok := <-r.link.Recv():
			if !ok {
				break loop
			}
			resp, ok := p.NW.(wire.Response)
			if !ok {
				continue
			}
			r.cachePut(resp.HBFI, resp)
			if names, ok := awaiting[resp.HBFI]; ok {
				for _, name := range names {
					v := resp
					results[name] = &v
				}
				delete(awaiting, resp.HBFI)
			}
		}
	}

	for _, names := range awaiting {
		for _, name := range names {
			results[name] = nil
		}
	}
	return results
}

func (r *Requestor) send(h hbfi.HBFI) {
	select {
	case r.link.Send() <- wire.LinkPacket{ReplyTo: r.link.ID().Local, NW: wire.Request{HBFI: h}}:
	default:
		r.log.WithField("hbfi", h.String()).Warn("outbound queue full, dropping request retry")
	}
}

func (r *Requestor) cacheGet(h hbfi.HBFI) (wire.Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.cache[h]
	return resp, ok
}

func (r *Requestor) cachePut(h hbfi.HBFI, resp wire.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[h] = resp
}
