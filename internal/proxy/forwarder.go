package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rsinha488/ecommerce-gateway/internal/observability"
	"github.com/rsinha488/ecommerce-gateway/internal/registry"
)

// DefaultForwardTimeout bounds the whole upstream exchange up to
// response headers.
const DefaultForwardTimeout = 30 * time.Second

// hopHeaders are connection-scoped headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder streams client requests to upstream instances and records
// the outcome of every attempt on the instance's circuit breaker.
type Forwarder struct {
	transport http.RoundTripper
	timeout   time.Duration
	logger    observability.Logger
}

// ForwarderOption is a functional option for configuring the forwarder.
type ForwarderOption func(*Forwarder)

// WithTimeout sets the upstream timeout.
func WithTimeout(timeout time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// WithTransport sets the upstream round tripper.
func WithTransport(transport http.RoundTripper) ForwarderOption {
	return func(f *Forwarder) {
		f.transport = transport
	}
}

// WithForwarderLogger sets the logger for the forwarder.
func WithForwarderLogger(logger observability.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// NewForwarder creates a forwarder with a pooled transport.
func NewForwarder(opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		},
		timeout: DefaultForwardTimeout,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward sends the request to the given instance and streams the
// response back to the client.
//
// Outcome accounting: the attempt counts as a success as soon as the
// upstream produces response headers, whatever the status code. A 5xx
// answer is the upstream working; only timeouts and transport failures
// feed the circuit breaker. A request canceled by the client records
// neither outcome.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, inst *registry.Instance) {
	ctx, cancel := context.WithTimeout(r.Context(), f.timeout)
	defer cancel()

	upstreamReq, err := f.buildUpstreamRequest(ctx, r, inst)
	if err != nil {
		f.logger.WithContext(r.Context()).Error("failed to build upstream request",
			observability.String("service", inst.Service()),
			observability.String("instance", inst.Addr()),
			observability.Error(err),
		)
		writeJSONError(w, http.StatusInternalServerError,
			"upstream_error", "failed to build upstream request")
		return
	}

	resp, err := f.transport.RoundTrip(upstreamReq)
	if err != nil {
		f.handleForwardError(w, r, inst, err)
		return
	}
	defer resp.Body.Close()

	inst.RecordSuccess()

	copyHeaders(w.Header(), resp.Header)
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(resp.StatusCode)

	// Headers are sent; body copy failures can only be logged.
	if err := f.streamBody(w, resp.Body); err != nil {
		f.logger.WithContext(r.Context()).Warn("response body copy interrupted",
			observability.String("service", inst.Service()),
			observability.String("instance", inst.Addr()),
			observability.Error(err),
		)
	}
}

// buildUpstreamRequest clones the client request for the upstream,
// rewriting the target, stripping hop-by-hop headers, and adding the
// forwarding headers.
func (f *Forwarder) buildUpstreamRequest(
	ctx context.Context, r *http.Request, inst *registry.Instance,
) (*http.Request, error) {
	target := *r.URL
	target.Scheme = inst.URL().Scheme
	target.Host = inst.URL().Host

	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}

	copyHeaders(upstreamReq.Header, r.Header)
	for _, h := range hopHeaders {
		upstreamReq.Header.Del(h)
	}

	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		upstreamReq.Header.Set("X-Forwarded-For", clientIP)
	}

	if r.TLS != nil {
		upstreamReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		upstreamReq.Header.Set("X-Forwarded-Proto", "http")
	}
	upstreamReq.Header.Set("X-Forwarded-Host", r.Host)

	upstreamReq.Host = inst.URL().Host
	upstreamReq.ContentLength = r.ContentLength

	observability.InjectTraceContext(ctx, upstreamReq)

	return upstreamReq, nil
}

// handleForwardError classifies a round trip failure, records it, and
// answers the client.
func (f *Forwarder) handleForwardError(
	w http.ResponseWriter, r *http.Request, inst *registry.Instance, err error,
) {
	// The client went away; nothing to answer and nothing to hold
	// against the instance.
	if r.Context().Err() == context.Canceled {
		f.logger.WithContext(r.Context()).Debug("client canceled request",
			observability.String("service", inst.Service()),
		)
		return
	}

	inst.RecordFailure()

	fwdErr := &ForwardError{
		Op:      "round_trip",
		Service: inst.Service(),
		Target:  inst.URL().String(),
		Cause:   err,
	}

	if isTimeout(err) {
		fwdErr.Message = ErrUpstreamTimeout.Error()
		f.logger.WithContext(r.Context()).Error("upstream timeout",
			observability.String("service", inst.Service()),
			observability.String("instance", inst.Addr()),
			observability.Duration("timeout", f.timeout),
		)
		writeJSONError(w, http.StatusGatewayTimeout,
			"gateway_timeout", fwdErr.Error())
		return
	}

	fwdErr.Message = ErrUpstreamUnreachable.Error()
	f.logger.WithContext(r.Context()).Error("upstream request failed",
		observability.String("service", inst.Service()),
		observability.String("instance", inst.Addr()),
		observability.Error(err),
	)
	writeJSONError(w, http.StatusInternalServerError,
		"upstream_error", fwdErr.Error())
}

// streamBody copies the upstream body to the client, flushing after
// every chunk so streaming responses are not buffered.
func (f *Forwarder) streamBody(w http.ResponseWriter, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// isTimeout reports whether the round trip failed on a deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "context deadline exceeded")
}

// copyHeaders copies all values of every header from src to dst.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// writeJSONError writes a JSON error body with the given status.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
