package discovery

import (
	"fmt"
)

// TeamAddress returns the 10.TE.AM.2 field network address for team.
func TeamAddress(team int) (string, error) {
	if team <= 0 || team > MaxTeam {
		return "", fmt.Errorf("%w: %d", ErrInvalidTeam, team)
	}
	return fmt.Sprintf("10.%d.%d.2", team/100, team%100), nil
}

// TeamHostnames returns the mDNS host names the controller of team answers to.
func TeamHostnames(team int) []string {
	if team <= 0 {
		return nil
	}
	return []string{
		fmt.Sprintf("roborio-%d-frc.local", team),
		fmt.Sprintf("roborio-%d-frc.lan", team),
	}
}

// StaticCandidates returns the explicit addresses followed by the
// addresses derived from team, without duplicates. A team of zero or less
// only contributes the USB address.
func StaticCandidates(team int, extra []string) []string {
	out := make([]string, 0, len(extra)+4)
	out = append(out, extra...)
	if addr, err := TeamAddress(team); err == nil {
		out = append(out, addr)
	}
	out = append(out, USBAddress)
	out = append(out, TeamHostnames(team)...)
	return dedupe(out)
}
