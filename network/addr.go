package network

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"peerdrop/crypto"
)

// ErrInvalidAddress indicates a dial address is not host:port.
var ErrInvalidAddress = errors.New("network: invalid address")

// NodeAddr is everything needed to reach a node: its identity and candidate addresses.
type NodeAddr struct {
	ID    crypto.NodeID
	Addrs []string
}

// String renders the short node id and its addresses for logs.
func (a NodeAddr) String() string {
	return fmt.Sprintf("%s[%s]", a.ID.Short(), strings.Join(a.Addrs, ","))
}

// ValidateAddress checks that address is a host:port pair with a valid port.
func ValidateAddress(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	if host == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidAddress, address)
	}
	value, err := strconv.Atoi(port)
	if err != nil || value <= 0 || value > 65535 {
		return fmt.Errorf("%w: %q: bad port", ErrInvalidAddress, address)
	}
	return nil
}

// MaxAdvertisedAddrs bounds how many addresses a node advertises.
const MaxAdvertisedAddrs = 16

// LocalAddresses expands a bound UDP address into dialable host:port pairs.
// Wildcard binds are expanded to every usable interface address, loopback
// last, capped at MaxAdvertisedAddrs.
func LocalAddresses(bound *net.UDPAddr) []string {
	if bound == nil {
		return nil
	}
	port := strconv.Itoa(bound.Port)
	if !bound.IP.IsUnspecified() && bound.IP != nil {
		return []string{net.JoinHostPort(bound.IP.String(), port)}
	}

	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return []string{net.JoinHostPort("127.0.0.1", port)}
	}

	var external, loopback []string
	for _, addr := range ifaceAddrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		switch {
		case ip.IsLoopback():
			if ip.To4() != nil {
				loopback = append(loopback, net.JoinHostPort(ip.String(), port))
			}
		case ip.IsLinkLocalUnicast(), ip.IsMulticast():
			continue
		default:
			external = append(external, net.JoinHostPort(ip.String(), port))
		}
	}
	if len(loopback) == 0 {
		loopback = append(loopback, net.JoinHostPort("127.0.0.1", port))
	}
	if len(external) > MaxAdvertisedAddrs-1 {
		external = external[:MaxAdvertisedAddrs-1]
	}
	out := append(external, loopback...)
	return out[:min(len(out), MaxAdvertisedAddrs)]
}
