// Package netaddr discovers the host's outbound LAN address.
package netaddr

import "net"

const fallback = "127.0.0.1"

// probeAddr is never contacted: dialing UDP only asks the kernel to pick the
// source address it would route through.
var probeAddr = "10.255.255.255:1"

// LocalIP returns the IPv4 address used for outbound traffic, or 127.0.0.1.
func LocalIP() string {
	conn, err := net.Dial("udp4", probeAddr)
	if err != nil {
		return fallback
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil || addr.IP.IsUnspecified() {
		return fallback
	}
	return addr.IP.String()
}
