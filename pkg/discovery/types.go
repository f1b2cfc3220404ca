package discovery

import (
	"errors"
	"net"
	"strings"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceTypeController is advertised by the robot controller.
	ServiceTypeController = "_ni._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// BrowseTimeout bounds one-shot lookups such as FindController.
	BrowseTimeout = 10 * time.Second
)

// Well-known addresses.
const (
	// USBAddress is the controller address over the USB tether.
	USBAddress = "172.22.11.2"

	// MaxTeam is the largest team number that maps to a 10.TE.AM.2 address.
	MaxTeam = 25599
)

var (
	ErrNotFound    = errors.New("controller not found")
	ErrInvalidTeam = errors.New("invalid team number")
)

// ControllerService is a controller instance found via mDNS.
type ControllerService struct {
	// Instance is the mDNS instance name.
	Instance string

	// Host is the advertised host name, without the trailing dot.
	Host string

	// Port is the advertised service port.
	Port uint16

	// Addresses holds every IP seen for the instance, IPv4 first.
	Addresses []string

	// TXT holds the parsed TXT record.
	TXT map[string]string
}

// Candidates returns the addresses worth offering to the supervisor:
// the IPv4 addresses, then the host name, then IPv6.
func (s *ControllerService) Candidates() []string {
	var v4, v6 []string
	for _, a := range s.Addresses {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			v4 = append(v4, a)
		} else {
			v6 = append(v6, a)
		}
	}
	out := v4
	if s.Host != "" {
		out = append(out, s.Host)
	}
	return dedupe(append(out, v6...))
}

// ServiceEntry is a raw mDNS result, decoupled from the zeroconf types.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToControllerService converts a ServiceEntry to ControllerService.
func (e *ServiceEntry) ToControllerService() *ControllerService {
	return &ControllerService{
		Instance:  e.Instance,
		Host:      strings.TrimSuffix(e.Host, "."),
		Port:      e.Port,
		Addresses: append([]string(nil), e.Addrs...),
		TXT:       ParseTXT(e.Text),
	}
}

// ParseTXT converts key=value TXT strings to a map. Keys without a value
// map to the empty string.
func ParseTXT(strs []string) map[string]string {
	txt := make(map[string]string, len(strs))
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if parts[0] != "" {
			txt[parts[0]] = ""
		}
	}
	return txt
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
