package netaddr

import (
	"testing"
)

func TestIsPrivate(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"127.0.0.1", true},
		{"localhost", true},
		{"::1", true},
		{"10.0.0.5", true},
		{"10.255.255.254", true},
		{"192.168.1.100", true},
		{"172.16.0.1", true},
		{"172.31.255.1", true},
		{"::ffff:192.168.1.5", true},
		{"172.15.0.1", false},
		{"172.32.0.1", false},
		{"8.8.8.8", false},
		{"1.2.3.4", false},
		{"203.0.113.7", false},
		{"example.com", false},
		{"", false},
		{"not-an-ip", false},
	}

	for _, tt := range tests {
		if got := IsPrivate(tt.host); got != tt.want {
			t.Errorf("IsPrivate(%q): хотели %v, получили %v", tt.host, tt.want, got)
		}
	}
}

func TestRemoteHost(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"192.168.1.5:54321", "192.168.1.5"},
		{"[::1]:8080", "::1"},
		{"127.0.0.1", "127.0.0.1"},
	}

	for _, tt := range tests {
		if got := RemoteHost(tt.addr); got != tt.want {
			t.Errorf("RemoteHost(%q): хотели %q, получили %q", tt.addr, tt.want, got)
		}
	}
}
