// Package version provides protocol version parsing and the WebSocket
// subprotocol names that carry it, plus build information for the
// commands.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
)

// Current is the protocol version implemented by this library.
const Current = "4.1"

// SubprotocolBase is the subprotocol name shared by every version. Offered
// without a version prefix it means 4.0.
const SubprotocolBase = "networktables.first.wpi.edu"

// Build information, set with -ldflags "-X".
var (
	Build  = "dev"
	Commit = "none"
)

// SpecVersion represents a parsed "major.minor" protocol version.
type SpecVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (SpecVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return SpecVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return SpecVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v SpecVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v SpecVersion) Compatible(other SpecVersion) bool {
	return v.Major == other.Major
}

// Subprotocol returns the subprotocol name for v: "v4.1.networktables...".
// Version 4.0 uses the bare base name.
func Subprotocol(v SpecVersion) string {
	if v.Major == 4 && v.Minor == 0 {
		return SubprotocolBase
	}
	return fmt.Sprintf("v%d.%d.%s", v.Major, v.Minor, SubprotocolBase)
}

// FromSubprotocol extracts the protocol version from a negotiated
// subprotocol name.
func FromSubprotocol(name string) (SpecVersion, error) {
	if name == SubprotocolBase {
		return SpecVersion{Major: 4}, nil
	}
	if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, "."+SubprotocolBase) {
		return SpecVersion{}, fmt.Errorf("not a protocol subprotocol: %q", name)
	}
	return Parse(strings.TrimSuffix(name[1:], "."+SubprotocolBase))
}

// SupportedSubprotocols returns the subprotocols offered for negotiation,
// most preferred first.
func SupportedSubprotocols() []string {
	current, _ := Parse(Current)
	return []string{Subprotocol(current), Subprotocol(SpecVersion{Major: 4})}
}

// Info describes the running binary.
type Info struct {
	Build     string
	Commit    string
	Protocol  string
	GoVersion string
}

// Get returns build information. Without ldflags the module version from
// the embedded build info is used when available.
func Get() Info {
	info := Info{Build: Build, Commit: Commit, Protocol: Current}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.Build == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Build = bi.Main.Version
		}
	}
	return info
}
