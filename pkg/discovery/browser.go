package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// BrowseControllers searches for controllers. The channel is closed
	// when the context is cancelled.
	BrowseControllers(ctx context.Context) (<-chan *ControllerService, error)

	// FindController returns the first controller found, or ErrNotFound
	// once BrowseTimeout has passed.
	FindController(ctx context.Context) (*ControllerService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout is the default timeout for FindController.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// Team restricts results to the roborio-<team>-frc controller.
	// Zero accepts any controller.
	Team int
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// accepts reports whether the entry belongs to the configured team.
func (c BrowserConfig) accepts(e *ServiceEntry) bool {
	if c.Team <= 0 {
		return true
	}
	want := fmt.Sprintf("roborio-%d-frc", c.Team)
	return strings.Contains(strings.ToLower(e.Instance), want) ||
		strings.Contains(strings.ToLower(e.Host), want)
}

// aggregate folds raw entries into one ControllerService per instance.
// Addresses from later entries of a known instance are merged without a
// new emission; removals drop addresses and forget the instance once none
// remain, so it is emitted again when it reappears.
func aggregate(ctx context.Context, cfg BrowserConfig, entries, removed <-chan *ServiceEntry, out chan<- *ControllerService) {
	defer close(out)

	services := make(map[string]*ControllerService)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if entry == nil || !cfg.accepts(entry) {
				continue
			}
			if existing, found := services[entry.Instance]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, entry.Addrs)
				continue
			}
			svc := entry.ToControllerService()
			services[entry.Instance] = svc

			// The receiver gets a copy; the map entry keeps aggregating.
			emit := *svc
			emit.Addresses = append([]string(nil), svc.Addresses...)
			select {
			case out <- &emit:
			case <-ctx.Done():
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if entry == nil {
				continue
			}
			if existing, found := services[entry.Instance]; found {
				existing.Addresses = removeAddresses(existing.Addresses, entry.Addrs)
				if len(existing.Addresses) == 0 {
					delete(services, entry.Instance)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses filters gone out of addresses.
func removeAddresses(addresses, gone []string) []string {
	drop := make(map[string]bool, len(gone))
	for _, a := range gone {
		drop[a] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}
