package connection

import (
	"context"
	"net"
)

// NetworkProbe reports whether the host has any network to reach the
// controller over.
type NetworkProbe interface {
	Reachable() bool
}

// ProbeFunc adapts a function to NetworkProbe.
type ProbeFunc func() bool

// Reachable calls f.
func (f ProbeFunc) Reachable() bool { return f() }

// InterfaceProbe reports the network reachable when at least one
// non-loopback interface is up and has an address.
type InterfaceProbe struct {
	// Interfaces lists interfaces; defaults to net.Interfaces.
	Interfaces func() ([]net.Interface, error)
}

// Reachable implements NetworkProbe. An error listing interfaces counts
// as reachable so a broken probe cannot stall reconnection forever.
func (p InterfaceProbe) Reachable() bool {
	list := p.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		return true
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLinkLocalUnicast() {
				return true
			}
		}
	}
	return false
}

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// resolve turns address (host or host:port) into a dialable address.
// IP literals are returned unchanged. IPv4 results are preferred.
func resolve(ctx context.Context, r Resolver, address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host, port = address, ""
	}
	if net.ParseIP(host) != nil {
		return address, nil
	}

	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}
	pick := addrs[0]
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			pick = a
			break
		}
	}
	if port == "" {
		return pick, nil
	}
	return net.JoinHostPort(pick, port), nil
}
