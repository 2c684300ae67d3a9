package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
)

func TestEntryAddr(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		want  string
		ok    bool
	}{
		{"nil", nil, "", false},
		{"no port", &mdns.ServiceEntry{AddrV4: net.IPv4(10, 0, 0, 2)}, "", false},
		{"no address", &mdns.ServiceEntry{Port: 5000}, "", false},
		{"ipv4", &mdns.ServiceEntry{AddrV4: net.IPv4(10, 0, 0, 2), Port: 5000}, "10.0.0.2:5000", true},
		{"ipv6", &mdns.ServiceEntry{AddrV6: net.ParseIP("fe80::1"), Port: 5000}, "[fe80::1]:5000", true},
		{
			"prefers ipv4",
			&mdns.ServiceEntry{AddrV4: net.IPv4(192, 168, 1, 9), AddrV6: net.ParseIP("fe80::1"), Port: 6000},
			"192.168.1.9:6000",
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := entryAddr(tt.entry)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
