// Package upstream implements the forwarding side of the resolver: a
// single-shot UDP transport with a bounded wait, and a primary/secondary
// failover client on top of it.
package upstream

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"

	"localdns/pkg/logging"
)

// receive buffer for upstream replies; large enough for typical EDNS
// responses without being unbounded
const maxReplySize = 4096

// Config holds the two upstream endpoints and their shared timeout.
// Immutable after construction.
type Config struct {
	Primary   string
	Secondary string
	Timeout   time.Duration
}

// NewConfig validates the endpoint addresses and builds a Config. An
// address must be an IP:port pair; anything else is a configuration error
// and the process should not start serving with it.
func NewConfig(primary, secondary string, timeoutMs int64) (Config, error) {
	if err := validateEndpoint(primary); err != nil {
		return Config{}, fmt.Errorf("primary upstream %q: %w", primary, err)
	}
	if err := validateEndpoint(secondary); err != nil {
		return Config{}, fmt.Errorf("secondary upstream %q: %w", secondary, err)
	}
	if timeoutMs <= 0 {
		return Config{}, fmt.Errorf("upstream timeout must be positive, got %dms", timeoutMs)
	}
	return Config{
		Primary:   primary,
		Secondary: secondary,
		Timeout:   time.Duration(timeoutMs) * time.Millisecond,
	}, nil
}

func validateEndpoint(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("not a host:port pair: %w", err)
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("host %q is not an IP address", host)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("port %q is not a port number", port)
	}
	return nil
}

// Resolver forwards queries to the configured upstreams, trying the
// primary first and falling back to the secondary on any failure.
type Resolver struct {
	cfg    Config
	logger *logging.Logger

	clientPool sync.Pool
}

// NewResolver creates an upstream resolver for the given configuration.
func NewResolver(cfg Config, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewDefault()
	}

	r := &Resolver{
		cfg:    cfg,
		logger: logger,
	}
	r.clientPool.New = func() any {
		return &dns.Client{
			Net:     "udp",
			Timeout: cfg.Timeout,
			UDPSize: maxReplySize,
		}
	}

	logger.Info("Upstream resolver initialized",
		"primary", cfg.Primary,
		"secondary", cfg.Secondary,
		"timeout", cfg.Timeout,
	)

	return r
}

// supportedQtype reports whether the resolver forwards this query type.
func supportedQtype(qtype uint16) bool {
	switch qtype {
	case dns.TypeA, dns.TypeAAAA, dns.TypeCNAME:
		return true
	}
	return false
}

// Resolve queries the primary upstream and, on any failure (timeout,
// transport error, decode error), retries once against the secondary. A
// successful primary reply is returned as-is even when it carries zero
// answers. When both upstreams fail, the secondary's error is returned.
// Unsupported query types yield an empty result without touching the
// network.
func (r *Resolver) Resolve(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	if !supportedQtype(qtype) {
		r.logger.Warn("Unsupported record type for upstream query",
			"name", name,
			"qtype", dns.TypeToString[qtype])
		return nil, nil
	}

	answers, err := r.queryOne(ctx, r.cfg.Primary, name, qtype)
	if err == nil {
		r.logger.Debug("Primary upstream answered",
			"name", name,
			"answers", len(answers))
		return answers, nil
	}
	r.logger.Warn("Primary upstream query failed",
		"upstream", r.cfg.Primary,
		"name", name,
		"error", err)

	answers, err = r.queryOne(ctx, r.cfg.Secondary, name, qtype)
	if err != nil {
		r.logger.Warn("Secondary upstream query failed",
			"upstream", r.cfg.Secondary,
			"name", name,
			"error", err)
		return nil, err
	}
	r.logger.Debug("Secondary upstream answered",
		"name", name,
		"answers", len(answers))
	return answers, nil
}

// queryOne sends a single query for one (name, type) pair to one endpoint
// over UDP and waits for exactly one reply, bounded by the configured
// timeout. The reply's answer section is returned verbatim.
func (r *Resolver) queryOne(ctx context.Context, server, name string, qtype uint16) ([]dns.RR, error) {
	req := new(dns.Msg)
	// SetQuestion assigns a randomized transaction id and requests recursion.
	req.SetQuestion(dns.Fqdn(name), qtype)

	client := r.clientPool.Get().(*dns.Client)
	defer r.clientPool.Put(client)

	resp, _, err := client.ExchangeContext(ctx, req, server)
	if err != nil {
		return nil, fmt.Errorf("exchange with %s: %w", server, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("nil response from %s", server)
	}

	return resp.Answer, nil
}
