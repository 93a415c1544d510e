package mcp

import (
	"net/http/httptest"
	"testing"
)

func TestIsInternal(t *testing.T) {
	c := NewIPClassifier(nil)
	internal := []string{"127.0.0.1", "10.1.2.3", "192.168.0.10", "172.16.5.5", "169.254.1.1", "::1", "0.0.0.0"}
	for _, ip := range internal {
		if !c.IsInternal(ip) {
			t.Fatalf("%s should be internal", ip)
		}
	}
	external := []string{"203.0.113.9", "8.8.8.8", "2001:db8::1", "not-an-ip", ""}
	for _, ip := range external {
		if c.IsInternal(ip) {
			t.Fatalf("%s should be external", ip)
		}
	}
}

func TestIsInternalStripsPort(t *testing.T) {
	c := NewIPClassifier(nil)
	if !c.IsInternal("10.0.0.1:54321") {
		t.Fatal("host:port form should classify by host")
	}
}

func TestCallerIPIgnoresForwardedFromUntrustedPeer(t *testing.T) {
	c := NewIPClassifier(nil)
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:1234"
	r.Header.Set("X-Forwarded-For", "10.0.0.1")

	// An untrusted peer claiming an internal origin stays external.
	if got := c.CallerIP(r); got != "203.0.113.9" {
		t.Fatalf("CallerIP = %s, want the peer address", got)
	}
}

func TestCallerIPHonorsForwardedFromTrustedProxy(t *testing.T) {
	c := NewIPClassifier([]string{"10.0.0.0/8"})
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")

	if got := c.CallerIP(r); got != "203.0.113.9" {
		t.Fatalf("CallerIP = %s, want first forwarded address", got)
	}
}

func TestCallerIPRealIPFallback(t *testing.T) {
	c := NewIPClassifier([]string{"10.0.0.2"})
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	r.Header.Set("X-Real-Ip", "198.51.100.7")

	if got := c.CallerIP(r); got != "198.51.100.7" {
		t.Fatalf("CallerIP = %s, want X-Real-Ip value", got)
	}
}

func TestNewIPClassifierSkipsBadEntries(t *testing.T) {
	c := NewIPClassifier([]string{"not-a-cidr", "", "10.0.0.0/8"})
	if len(c.trustedProxies) != 1 {
		t.Fatalf("trustedProxies = %d, want 1", len(c.trustedProxies))
	}
}
