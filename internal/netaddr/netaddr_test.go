package netaddr

import (
	"net"
	"testing"
)

func TestLocalIPIsAnAddress(t *testing.T) {
	ip := net.ParseIP(LocalIP())
	if ip == nil || ip.To4() == nil {
		t.Fatalf("LocalIP returned %q", LocalIP())
	}
}

func TestLocalIPFallback(t *testing.T) {
	old := probeAddr
	probeAddr = "not-an-address"
	t.Cleanup(func() { probeAddr = old })
	if got := LocalIP(); got != fallback {
		t.Fatalf("LocalIP = %q, want fallback", got)
	}
}
