// Package discovery finds addresses where the robot controller may be
// reachable.
//
// Two sources feed the connection supervisor:
//
// # Static candidates
//
// StaticCandidates derives the conventional addresses from the team number:
// the field network address 10.TE.AM.2, the USB tether address 172.22.11.2,
// and the roborio-<team>-frc mDNS host names. Explicit addresses from the
// configuration come first.
//
// # mDNS (_ni._tcp)
//
// The controller advertises a _ni._tcp service in the local domain.
// MDNSBrowser browses for it with zeroconf and aggregates the addresses of
// each instance across interfaces. Every newly seen instance is emitted once
// as a ControllerService; the bridge offers its addresses to the supervisor.
package discovery
