// Package records holds the DNS record model, the domain pattern matcher,
// and the in-memory record cache the resolver answers from.
package records

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// Type represents the type of a stored DNS record. The set is closed:
// only address and alias records are supported.
type Type string

const (
	TypeA     Type = "A"
	TypeAAAA  Type = "AAAA"
	TypeCNAME Type = "CNAME"
)

// ParseType converts a string to a Type, rejecting anything outside the
// supported set.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeA, TypeAAAA, TypeCNAME:
		return Type(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
}

// ValidateContent checks that content is a syntactically valid payload for
// the record type: a dotted-decimal IPv4 literal for A, an IPv6 literal for
// AAAA, a domain name for CNAME.
func (t Type) ValidateContent(content string) error {
	switch t {
	case TypeA:
		ip := net.ParseIP(content)
		if ip == nil || ip.To4() == nil || strings.Contains(content, ":") {
			return fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidContent, content)
		}
	case TypeAAAA:
		ip := net.ParseIP(content)
		if ip == nil || !strings.Contains(content, ":") {
			return fmt.Errorf("%w: %q is not an IPv6 address", ErrInvalidContent, content)
		}
	case TypeCNAME:
		if _, ok := dns.IsDomainName(content); !ok {
			return fmt.Errorf("%w: %q is not a domain name", ErrInvalidContent, content)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, string(t))
	}
	return nil
}

// TTL bounds for stored records, in seconds.
const (
	MinTTL = 1
	MaxTTL = 86400
)

// Record is a stored DNS record. The id is assigned by the store and
// immutable; the domain pattern may contain '%' as a wildcard matching any
// sequence of characters across labels.
type Record struct {
	ID            int64  `json:"id"`
	DomainPattern string `json:"domain_pattern"`
	Type          Type   `json:"record_type"`
	Content       string `json:"content"`
	TTL           uint32 `json:"ttl"`
	Active        bool   `json:"active"`
}

// Validate checks the record's pattern, type, content, and TTL bounds.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.DomainPattern) == "" {
		return fmt.Errorf("%w: empty domain pattern", ErrInvalidPattern)
	}
	if _, err := ParseType(string(r.Type)); err != nil {
		return err
	}
	if err := r.Type.ValidateContent(r.Content); err != nil {
		return err
	}
	if r.TTL < MinTTL || r.TTL > MaxTTL {
		return fmt.Errorf("%w: ttl %d outside [%d, %d]", ErrInvalidTTL, r.TTL, MinTTL, MaxTTL)
	}
	return nil
}

// IsWildcard reports whether the record's pattern contains the wildcard token.
func (r *Record) IsWildcard() bool {
	return strings.Contains(r.DomainPattern, "%")
}

// String returns a zone-file-ish representation of the record.
func (r *Record) String() string {
	return fmt.Sprintf("%s %d IN %s %s", r.DomainPattern, r.TTL, r.Type, r.Content)
}
