package iface

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func testIface() Interface {
	return Interface{
		Name:    "eth0",
		IP:      net.ParseIP("192.168.1.10").To4(),
		Netmask: net.CIDRMask(24, 32),
		MAC:     net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa},
	}
}

func TestSameSubnet(t *testing.T) {
	i := testIface()
	require.True(t, i.SameSubnet(net.ParseIP("192.168.1.1")))
	require.True(t, i.SameSubnet(net.ParseIP("192.168.1.254")))
	require.False(t, i.SameSubnet(net.ParseIP("192.168.2.1")), "different subnet")
	require.False(t, i.SameSubnet(i.IP), "an interface's own address is never same-subnet")
}

func TestBroadcast(t *testing.T) {
	i := testIface()
	require.Equal(t, "192.168.1.255", i.Broadcast().String())
}

func TestByIP(t *testing.T) {
	ifs := []Interface{testIface()}
	found, err := ByIP(ifs, net.ParseIP("192.168.1.50"))
	require.NoError(t, err)
	require.Equal(t, "eth0", found.Name)

	_, err = ByIP(ifs, net.ParseIP("10.0.0.5"))
	require.ErrorIs(t, err, ErrNoInterface)
}
