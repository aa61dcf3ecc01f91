// Package dnsserver contains the query pipeline and the UDP/TCP listeners
// built on miekg/dns.
package dnsserver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"localdns/pkg/logging"
	"localdns/pkg/records"
	"localdns/pkg/storage"
	"localdns/pkg/telemetry"
)

// Forwarder resolves a query against the upstream servers.
type Forwarder interface {
	Resolve(ctx context.Context, name string, qtype uint16) ([]dns.RR, error)
}

// EventSink receives one log event per resolved query, fire-and-forget.
type EventSink interface {
	Submit(entry *storage.QueryLog)
}

// Handler runs the per-query pipeline: validate the request, look up the
// record cache, fall back to the upstreams, synthesize the answer, and
// emit a log event.
type Handler struct {
	cache     *records.Cache
	forwarder Forwarder
	events    EventSink
	metrics   *telemetry.Metrics
	logger    *logging.Logger
}

// NewHandler creates a query handler. The forwarder may be nil, in which
// case cache misses are answered with NXDOMAIN and classified as errors.
func NewHandler(cache *records.Cache, forwarder Forwarder, events EventSink, metrics *telemetry.Metrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Handler{
		cache:     cache,
		forwarder: forwarder,
		events:    events,
		metrics:   metrics,
		logger:    logger,
	}
}

// ServeDNS implements dns.Handler.
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	start := time.Now()
	ctx := context.Background()

	// Anything other than a standard query is rejected up front and never
	// enters the pipeline.
	if r.Opcode != dns.OpcodeQuery {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNotImplemented)
		h.writeMsg(w, m)
		return
	}

	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true

	// A query with no question has nothing to resolve and produces no log
	// event.
	if len(r.Question) == 0 {
		msg.Rcode = dns.RcodeNameError
		h.writeMsg(w, msg)
		return
	}

	q := r.Question[0]
	queryName := strings.TrimSuffix(q.Name, ".")
	qtypeStr := dns.TypeToString[q.Qtype]

	h.logger.Debug("DNS query received",
		"name", queryName,
		"type", qtypeStr,
		"client", clientIP(w))

	if h.metrics != nil {
		h.metrics.QueriesTotal.Add(ctx, 1)
		h.metrics.QueriesByType.Add(ctx, 1,
			metric.WithAttributes(attribute.String("type", qtypeStr)))
	}

	answers, resultType := h.resolve(ctx, queryName, q)

	if len(answers) == 0 {
		msg.Rcode = dns.RcodeNameError
	}
	msg.Answer = answers

	h.writeMsg(w, msg)

	duration := time.Since(start)
	h.recordOutcome(ctx, resultType, duration)

	if h.events != nil {
		h.events.Submit(&storage.QueryLog{
			QueryName:  queryName,
			QueryType:  qtypeStr,
			ResultType: resultType,
			DurationMs: duration.Milliseconds(),
		})
	}
}

// resolve answers one question, first from the record cache and then via
// the upstreams. The returned result class is LOCAL for a synthesized
// local answer, FORWARDED for a non-empty upstream answer set, and ERROR
// for everything else.
func (h *Handler) resolve(ctx context.Context, queryName string, q dns.Question) ([]dns.RR, string) {
	if recType, err := records.ParseType(dns.TypeToString[q.Qtype]); err == nil {
		if rec, ok := h.cache.FindMatching(queryName, recType); ok {
			rr, err := synthesize(q.Name, rec)
			if err == nil {
				h.logger.Debug("Cache hit",
					"name", queryName,
					"pattern", rec.DomainPattern,
					"content", rec.Content)
				return []dns.RR{rr}, storage.ResultLocal
			}
			// Stored content that does not parse is treated as a miss.
			h.logger.Warn("Failed to synthesize answer from stored record",
				"name", queryName,
				"record_id", rec.ID,
				"content", rec.Content,
				"error", err)
		}
	}

	if h.forwarder == nil {
		return nil, storage.ResultError
	}

	answers, err := h.forwarder.Resolve(ctx, queryName, q.Qtype)
	if err != nil {
		h.logger.Warn("Upstream resolution failed",
			"name", queryName,
			"error", err)
		return nil, storage.ResultError
	}
	if len(answers) == 0 {
		return nil, storage.ResultError
	}
	return answers, storage.ResultForwarded
}

// synthesize builds a wire answer for the query name from a stored record.
// The content must parse for the record's type; a record that fails here
// was corrupted after validation at the store boundary.
func synthesize(fqdn string, rec records.Record) (dns.RR, error) {
	hdr := dns.RR_Header{
		Name:  fqdn,
		Class: dns.ClassINET,
		Ttl:   rec.TTL,
	}

	switch rec.Type {
	case records.TypeA:
		ip := net.ParseIP(rec.Content)
		if ip == nil || ip.To4() == nil || strings.Contains(rec.Content, ":") {
			return nil, fmt.Errorf("%q is not an IPv4 address", rec.Content)
		}
		hdr.Rrtype = dns.TypeA
		return &dns.A{Hdr: hdr, A: ip.To4()}, nil

	case records.TypeAAAA:
		ip := net.ParseIP(rec.Content)
		if ip == nil || !strings.Contains(rec.Content, ":") {
			return nil, fmt.Errorf("%q is not an IPv6 address", rec.Content)
		}
		hdr.Rrtype = dns.TypeAAAA
		return &dns.AAAA{Hdr: hdr, AAAA: ip.To16()}, nil

	case records.TypeCNAME:
		if _, ok := dns.IsDomainName(rec.Content); !ok {
			return nil, fmt.Errorf("%q is not a domain name", rec.Content)
		}
		hdr.Rrtype = dns.TypeCNAME
		return &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(rec.Content)}, nil
	}

	return nil, fmt.Errorf("unsupported record type %q", rec.Type)
}

func (h *Handler) recordOutcome(ctx context.Context, resultType string, duration time.Duration) {
	if h.metrics == nil {
		return
	}
	switch resultType {
	case storage.ResultLocal:
		h.metrics.QueriesLocal.Add(ctx, 1)
	case storage.ResultForwarded:
		h.metrics.QueriesForwarded.Add(ctx, 1)
	case storage.ResultError:
		h.metrics.QueriesErrored.Add(ctx, 1)
	}
	h.metrics.QueryDuration.Record(ctx, float64(duration.Milliseconds()))
}

// writeMsg writes a DNS message to the response writer. A failed write
// means the client is gone; there is nobody left to tell.
func (h *Handler) writeMsg(w dns.ResponseWriter, msg *dns.Msg) {
	if err := w.WriteMsg(msg); err != nil {
		h.logger.Warn("Failed to send DNS response", "error", err)
	}
}

// clientIP extracts the client address without the port.
func clientIP(w dns.ResponseWriter) string {
	if w.RemoteAddr() == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(w.RemoteAddr().String())
	if err != nil {
		return w.RemoteAddr().String()
	}
	return host
}
