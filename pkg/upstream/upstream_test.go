package upstream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"localdns/pkg/logging"
)

// mockDNSServer answers from a fixed name→records map, replying NXDOMAIN
// for anything else. Returns the listen address and a cleanup func.
func mockDNSServer(t *testing.T, responses map[string][]dns.RR) (string, func()) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start mock DNS server: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, maxReplySize)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}

			req := new(dns.Msg)
			if err := req.Unpack(buf[:n]); err != nil {
				continue
			}

			resp := new(dns.Msg)
			resp.SetReply(req)
			if len(req.Question) > 0 {
				if rrs, ok := responses[req.Question[0].Name]; ok {
					resp.Answer = rrs
				} else {
					resp.Rcode = dns.RcodeNameError
				}
			}

			packed, err := resp.Pack()
			if err != nil {
				continue
			}
			conn.WriteTo(packed, addr)
		}
	}()

	return conn.LocalAddr().String(), func() {
		conn.Close()
		<-done
	}
}

func testARecord(t *testing.T, name, ip string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(name + " 60 IN A " + ip)
	if err != nil {
		t.Fatalf("failed to build test record: %v", err)
	}
	return rr
}

func testConfig(t *testing.T, primary, secondary string) Config {
	t.Helper()
	cfg, err := NewConfig(primary, secondary, 500)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	return cfg
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name      string
		primary   string
		secondary string
		timeoutMs int64
		wantErr   bool
	}{
		{"valid", "8.8.8.8:53", "1.1.1.1:53", 2000, false},
		{"valid ipv6", "[2001:4860:4860::8888]:53", "1.1.1.1:53", 2000, false},
		{"missing port", "8.8.8.8", "1.1.1.1:53", 2000, true},
		{"hostname not ip", "dns.example.com:53", "1.1.1.1:53", 2000, true},
		{"bad port", "8.8.8.8:notaport", "1.1.1.1:53", 2000, true},
		{"bad secondary", "8.8.8.8:53", "1.1.1.1", 2000, true},
		{"zero timeout", "8.8.8.8:53", "1.1.1.1:53", 0, true},
		{"negative timeout", "8.8.8.8:53", "1.1.1.1:53", -5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.primary, tt.secondary, tt.timeoutMs)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewConfig(%q, %q, %d) error = %v, wantErr %v",
					tt.primary, tt.secondary, tt.timeoutMs, err, tt.wantErr)
			}
		})
	}
}

func TestResolve_PrimaryAnswers(t *testing.T) {
	addr, cleanup := mockDNSServer(t, map[string][]dns.RR{
		"app.example.com.": {testARecord(t, "app.example.com.", "93.184.216.34")},
	})
	defer cleanup()

	r := NewResolver(testConfig(t, addr, "127.0.0.1:1"), logging.NewDefault())

	answers, err := r.Resolve(context.Background(), "app.example.com", dns.TypeA)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(answers))
	}
	a, ok := answers[0].(*dns.A)
	if !ok {
		t.Fatalf("expected A record, got %T", answers[0])
	}
	if got := a.A.String(); got != "93.184.216.34" {
		t.Errorf("expected 93.184.216.34, got %s", got)
	}
}

func TestResolve_PrimaryEmptyIsNotFailover(t *testing.T) {
	// NXDOMAIN from the primary is a valid reply with zero answers; the
	// secondary must not be consulted.
	primaryAddr, primaryCleanup := mockDNSServer(t, map[string][]dns.RR{})
	defer primaryCleanup()

	secondaryAddr, secondaryCleanup := mockDNSServer(t, map[string][]dns.RR{
		"missing.example.com.": {testARecord(t, "missing.example.com.", "10.0.0.1")},
	})
	defer secondaryCleanup()

	r := NewResolver(testConfig(t, primaryAddr, secondaryAddr), logging.NewDefault())

	answers, err := r.Resolve(context.Background(), "missing.example.com", dns.TypeA)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(answers) != 0 {
		t.Errorf("expected empty answer set from primary, got %d answers", len(answers))
	}
}

func TestResolve_FailoverToSecondary(t *testing.T) {
	// Port 1 on loopback is not listening; the primary query times out
	// and the secondary serves the answer.
	secondaryAddr, cleanup := mockDNSServer(t, map[string][]dns.RR{
		"svc.example.com.": {testARecord(t, "svc.example.com.", "203.0.113.7")},
	})
	defer cleanup()

	r := NewResolver(testConfig(t, "127.0.0.1:1", secondaryAddr), logging.NewDefault())

	answers, err := r.Resolve(context.Background(), "svc.example.com", dns.TypeA)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(answers))
	}
}

func TestResolve_BothUpstreamsFail(t *testing.T) {
	r := NewResolver(testConfig(t, "127.0.0.1:1", "127.0.0.1:2"), logging.NewDefault())

	start := time.Now()
	answers, err := r.Resolve(context.Background(), "anything.example.com", dns.TypeA)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected an error when both upstreams fail")
	}
	if answers != nil {
		t.Errorf("expected nil answers on failure, got %v", answers)
	}
	// Two sequential attempts, each bounded by the 500ms timeout.
	if elapsed > 2*time.Second {
		t.Errorf("failover took %v, expected under 2s", elapsed)
	}
}

func TestResolve_UnsupportedTypeSkipsNetwork(t *testing.T) {
	// Unreachable endpoints: any network attempt would error out.
	r := NewResolver(testConfig(t, "127.0.0.1:1", "127.0.0.1:2"), logging.NewDefault())

	answers, err := r.Resolve(context.Background(), "mail.example.com", dns.TypeMX)
	if err != nil {
		t.Fatalf("expected no error for unsupported type, got %v", err)
	}
	if len(answers) != 0 {
		t.Errorf("expected empty answers for unsupported type, got %d", len(answers))
	}
}

func TestResolve_CNAME(t *testing.T) {
	rr, err := dns.NewRR("alias.example.com. 300 IN CNAME target.example.com.")
	if err != nil {
		t.Fatalf("failed to build CNAME record: %v", err)
	}
	addr, cleanup := mockDNSServer(t, map[string][]dns.RR{
		"alias.example.com.": {rr},
	})
	defer cleanup()

	r := NewResolver(testConfig(t, addr, "127.0.0.1:1"), logging.NewDefault())

	answers, err := r.Resolve(context.Background(), "alias.example.com", dns.TypeCNAME)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(answers))
	}
	cname, ok := answers[0].(*dns.CNAME)
	if !ok {
		t.Fatalf("expected CNAME record, got %T", answers[0])
	}
	if cname.Target != "target.example.com." {
		t.Errorf("expected target.example.com., got %s", cname.Target)
	}
}
