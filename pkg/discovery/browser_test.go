package discovery

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func receive(t *testing.T, out <-chan *ControllerService) *ControllerService {
	t.Helper()
	select {
	case svc := <-out:
		return svc
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for service")
		return nil
	}
}

func expectNone(t *testing.T, out <-chan *ControllerService) {
	t.Helper()
	select {
	case svc := <-out:
		t.Fatalf("unexpected service %+v", svc)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAggregateMergesAddresses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan *ServiceEntry)
	removed := make(chan *ServiceEntry)
	out := make(chan *ControllerService)
	go aggregate(ctx, DefaultBrowserConfig(), entries, removed, out)

	entries <- &ServiceEntry{Instance: "roboRIO-1234-FRC", Host: "roborio-1234-frc.local.", Port: 80, Addrs: []string{"10.12.34.2"}, Text: []string{"k=v"}}
	svc := receive(t, out)
	if svc.Host != "roborio-1234-frc.local" {
		t.Errorf("Host = %q, trailing dot not trimmed", svc.Host)
	}
	if svc.Port != 80 || svc.TXT["k"] != "v" {
		t.Errorf("service = %+v", svc)
	}

	// A second interface for the same instance is merged, not re-emitted.
	entries <- &ServiceEntry{Instance: "roboRIO-1234-FRC", Addrs: []string{"172.22.11.2", "10.12.34.2"}}
	expectNone(t, out)

	// Removing every address forgets the instance so it is emitted again.
	removed <- &ServiceEntry{Instance: "roboRIO-1234-FRC", Addrs: []string{"10.12.34.2"}}
	removed <- &ServiceEntry{Instance: "roboRIO-1234-FRC", Addrs: []string{"172.22.11.2"}}
	entries <- &ServiceEntry{Instance: "roboRIO-1234-FRC", Addrs: []string{"10.12.34.2"}}
	again := receive(t, out)
	if !reflect.DeepEqual(again.Addresses, []string{"10.12.34.2"}) {
		t.Errorf("Addresses = %v", again.Addresses)
	}
}

func TestAggregatePartialRemovalKeepsInstance(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan *ServiceEntry)
	removed := make(chan *ServiceEntry)
	out := make(chan *ControllerService)
	go aggregate(ctx, DefaultBrowserConfig(), entries, removed, out)

	entries <- &ServiceEntry{Instance: "a", Addrs: []string{"10.0.0.2", "10.0.0.3"}}
	receive(t, out)
	removed <- &ServiceEntry{Instance: "a", Addrs: []string{"10.0.0.2"}}
	entries <- &ServiceEntry{Instance: "a", Addrs: []string{"10.0.0.4"}}
	expectNone(t, out)
}

func TestAggregateTeamFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan *ServiceEntry)
	removed := make(chan *ServiceEntry)
	out := make(chan *ControllerService)
	cfg := DefaultBrowserConfig()
	cfg.Team = 1234
	go aggregate(ctx, cfg, entries, removed, out)

	entries <- &ServiceEntry{Instance: "roboRIO-9999-FRC", Addrs: []string{"10.99.99.2"}}
	expectNone(t, out)

	entries <- &ServiceEntry{Instance: "controller", Host: "roborio-1234-frc.local.", Addrs: []string{"10.12.34.2"}}
	if svc := receive(t, out); svc.Instance != "controller" {
		t.Errorf("Instance = %q", svc.Instance)
	}
}

func TestAggregateClosesOutput(t *testing.T) {
	t.Run("entries closed", func(t *testing.T) {
		entries := make(chan *ServiceEntry)
		out := make(chan *ControllerService)
		go aggregate(context.Background(), DefaultBrowserConfig(), entries, make(chan *ServiceEntry), out)
		close(entries)
		select {
		case _, ok := <-out:
			if ok {
				t.Error("expected closed channel")
			}
		case <-time.After(time.Second):
			t.Fatal("output not closed")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		out := make(chan *ControllerService)
		go aggregate(ctx, DefaultBrowserConfig(), make(chan *ServiceEntry), make(chan *ServiceEntry), out)
		cancel()
		select {
		case _, ok := <-out:
			if ok {
				t.Error("expected closed channel")
			}
		case <-time.After(time.Second):
			t.Fatal("output not closed")
		}
	})
}
