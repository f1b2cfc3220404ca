package connection

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/posebridge/posebridge-go/pkg/clientctx"
	"github.com/posebridge/posebridge-go/pkg/heartbeat"
	"github.com/posebridge/posebridge-go/pkg/wire"
)

// tickUntil ticks sup with the real clock until cond holds.
func tickUntil(t *testing.T, sup *Supervisor, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sup.Tick(time.Now())
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSupervisorFailsOverToSecondCandidate(t *testing.T) {
	const connectTimeout = 150 * time.Millisecond
	dialer := &fakeDialer{
		hang:   map[string]bool{"10.0.0.1": true},
		accept: map[string]bool{"10.0.0.2": true},
	}
	sup := NewSupervisor(clientctx.New("test"), SupervisorConfig{
		Candidates:     []string{"10.0.0.1", "10.0.0.2"},
		ConnectTimeout: connectTimeout,
	}, dialer, WithNetworkProbe(alwaysUp))
	defer sup.Close()

	start := time.Now()
	tickUntil(t, sup, func() bool { return sup.State() == StateConnected }, "never connected")
	elapsed := time.Since(start)

	if elapsed > 2*connectTimeout+100*time.Millisecond {
		t.Errorf("connected after %v, want within %v", elapsed, 2*connectTimeout)
	}
	if got := sup.Session().RemoteAddr(); got != "10.0.0.2" {
		t.Errorf("session on %s, want 10.0.0.2", got)
	}

	cands := sup.Candidates()
	if cands[0].Address != "10.0.0.1" || cands[0].LastFailure.IsZero() {
		t.Errorf("A not marked failed: %+v", cands[0])
	}
	if !cands[1].LastFailure.IsZero() {
		t.Errorf("B marked failed: %+v", cands[1])
	}

	st := sup.Status()
	if st.Address != "10.0.0.2" || st.SessionID == "" {
		t.Errorf("Status = %+v", st)
	}
	if st.LastError != nil {
		t.Errorf("LastError after success = %v", st.LastError)
	}
}

func TestSupervisorRespectsCooldown(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	dialer := &fakeDialer{}
	sup := NewSupervisor(clientctx.New("test", clientctx.WithClock(clock.Now)), SupervisorConfig{
		Candidates: []string{"10.0.0.1"},
		Cooldown:   5 * time.Second,
		Backoff:    BackoffConfig{Initial: time.Second},
	}, dialer, WithNetworkProbe(alwaysUp))
	defer sup.Close()

	failedAt := clock.Now()
	sup.Tick(failedAt)
	eventually(t, func() bool {
		sup.Tick(failedAt)
		return sup.State() == StateDisconnected
	}, "cycle did not finish")

	if c := sup.Candidates()[0]; !c.LastFailure.Equal(failedAt) {
		t.Fatalf("LastFailure = %v, want %v", c.LastFailure, failedAt)
	}

	// The backoff expires before the cooldown does.
	sup.Tick(failedAt.Add(time.Second))
	sup.Tick(failedAt.Add(5*time.Second - time.Nanosecond))
	if n := dialer.dials.Load(); n != 1 {
		t.Fatalf("dialed %d times inside the cooldown", n)
	}
	if next := sup.Status().NextAttempt; !next.Equal(failedAt.Add(5 * time.Second)) {
		t.Errorf("NextAttempt = %v, want cooldown expiry", next)
	}

	clock.Set(failedAt.Add(5 * time.Second))
	sup.Tick(failedAt.Add(5 * time.Second))
	eventually(t, func() bool { return dialer.dials.Load() == 2 }, "candidate not retried at cooldown expiry")
}

func TestSupervisorBackoffGrowsAndResets(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	dialer := &fakeDialer{accept: map[string]bool{}}
	sup := NewSupervisor(clientctx.New("test", clientctx.WithClock(clock.Now)), SupervisorConfig{
		Candidates: []string{"10.0.0.1"},
		Cooldown:   time.Nanosecond,
		Backoff:    BackoffConfig{Initial: time.Second, Max: 4 * time.Second},
	}, dialer, WithNetworkProbe(alwaysUp))
	defer sup.Close()

	now := clock.Now()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for k, w := range want {
		sup.Tick(now)
		eventually(t, func() bool {
			sup.Tick(now)
			return sup.State() == StateDisconnected
		}, "cycle did not finish")
		if got := sup.Status().NextAttempt.Sub(now); got != w {
			t.Errorf("cycle %d: next attempt in %v, want %v", k, got, w)
		}
		now = sup.Status().NextAttempt
		clock.Set(now)
	}

	dialer.mu.Lock()
	dialer.accept["10.0.0.1"] = true
	dialer.mu.Unlock()
	tickUntil(t, sup, func() bool { return sup.State() == StateConnected }, "never connected")
	if got := sup.Status().Backoff; got != time.Second {
		t.Errorf("backoff after success = %v, want 1s", got)
	}
}

func TestSupervisorUnreachableNetwork(t *testing.T) {
	up := false
	var mu sync.Mutex
	probe := ProbeFunc(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return up
	})
	dialer := &fakeDialer{accept: map[string]bool{"10.0.0.1": true}}
	sup := NewSupervisor(clientctx.New("test"), SupervisorConfig{
		Candidates:       []string{"10.0.0.1"},
		UnreachableRetry: 250 * time.Millisecond,
	}, dialer, WithNetworkProbe(probe))
	defer sup.Close()

	now := time.Unix(0, 0)
	sup.Tick(now)
	if dialer.dials.Load() != 0 || sup.State() != StateDisconnected {
		t.Fatal("dialed with the network down")
	}
	if got := sup.Status().NextAttempt.Sub(now); got != 250*time.Millisecond {
		t.Errorf("retry in %v, want 250ms", got)
	}
	if sup.Status().Backoff != InitialBackoff {
		t.Error("unreachable network advanced the backoff")
	}
	if c := sup.Candidates()[0]; !c.LastFailure.IsZero() {
		t.Error("unreachable network marked a candidate failed")
	}

	sup.Tick(now.Add(100 * time.Millisecond))
	if dialer.dials.Load() != 0 {
		t.Fatal("retried before UnreachableRetry")
	}

	mu.Lock()
	up = true
	mu.Unlock()
	tickUntil(t, sup, func() bool { return sup.State() == StateConnected }, "never connected once the network came up")
}

func TestSupervisorTriggerIgnoredWhileConnecting(t *testing.T) {
	release := make(chan struct{})
	dialer := &fakeDialer{accept: map[string]bool{"10.0.0.1": true}, release: release}
	sup := NewSupervisor(clientctx.New("test"), SupervisorConfig{
		Candidates:     []string{"10.0.0.1"},
		ConnectTimeout: time.Second,
	}, dialer, WithNetworkProbe(alwaysUp))
	defer sup.Close()

	sup.Tick(time.Now())
	if sup.State() != StateConnecting {
		t.Fatalf("state = %v, want CONNECTING", sup.State())
	}
	if sup.Trigger(nil) {
		t.Error("Trigger accepted while connecting")
	}
	sup.Tick(time.Now())
	eventually(t, func() bool { return dialer.dials.Load() == 1 }, "dial not started")

	close(release)
	tickUntil(t, sup, func() bool { return sup.State() == StateConnected }, "never connected")
	if n := dialer.dials.Load(); n != 1 {
		t.Errorf("dialed %d times, want 1", n)
	}

	if !sup.Trigger(nil) {
		t.Fatal("Trigger refused while connected")
	}
	first := dialer.lastConn()
	tickUntil(t, sup, func() bool {
		return sup.State() == StateConnected && dialer.lastConn() != first
	}, "did not reconnect after Trigger")
	if err := sup.Status().LastError; err != nil {
		t.Errorf("LastError = %v", err)
	}
}

func TestSupervisorDiscardsStaleAttempts(t *testing.T) {
	dialer := &fakeDialer{accept: map[string]bool{"10.0.0.1": true}}
	sup := NewSupervisor(clientctx.New("test"), SupervisorConfig{
		Candidates: []string{"10.0.0.1"},
	}, dialer, WithNetworkProbe(alwaysUp))
	defer sup.Close()

	tickUntil(t, sup, func() bool { return sup.State() == StateConnected }, "never connected")
	current := sup.Session()

	stale := newPeerConn("10.0.0.9")
	sup.events <- attemptEvent{gen: sup.gen - 1, kind: eventConnected, address: "10.0.0.9", conn: stale}
	late := newPeerConn("10.0.0.8")
	sup.events <- attemptEvent{gen: sup.gen, kind: eventConnected, address: "10.0.0.8", conn: late}
	sup.Tick(time.Now())

	if sup.Session() != current {
		t.Error("stale attempt replaced the session")
	}
	if !stale.isClosed() || !late.isClosed() {
		t.Error("discarded connections were not closed")
	}
	if sup.State() != StateConnected {
		t.Errorf("state = %v", sup.State())
	}
}

func TestSupervisorReplacesLostSession(t *testing.T) {
	var states []State
	var mu sync.Mutex
	dialer := &fakeDialer{accept: map[string]bool{"10.0.0.1": true}}
	sup := NewSupervisor(clientctx.New("test"), SupervisorConfig{
		Candidates: []string{"10.0.0.1"},
	}, dialer, WithNetworkProbe(alwaysUp), WithStateChange(func(_, to State) {
		mu.Lock()
		states = append(states, to)
		mu.Unlock()
	}))

	tickUntil(t, sup, func() bool { return sup.State() == StateConnected }, "never connected")
	old := sup.Session()

	dialer.lastConn().Close()
	eventually(t, func() bool { return !old.IsConnected() }, "session did not notice the close")

	sup.Tick(time.Now())
	if sup.State() != StateConnecting {
		t.Fatalf("state after loss = %v, want CONNECTING on the same tick", sup.State())
	}
	tickUntil(t, sup, func() bool { return sup.State() == StateConnected }, "never reconnected")
	if sup.Session() == old {
		t.Error("session not replaced")
	}

	sup.Close()
	if sup.State() != StateClosed || sup.Trigger(nil) {
		t.Error("supervisor usable after Close")
	}
	sup.Tick(time.Now())

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", states, want)
		}
	}
}

func TestSupervisorOfferAndStore(t *testing.T) {
	store := &memStore{last: "10.0.0.7"}
	dialer := &fakeDialer{accept: map[string]bool{"10.0.0.5": true}}
	sup := NewSupervisor(clientctx.New("test"), SupervisorConfig{
		Candidates: []string{"10.0.0.1"},
	}, dialer, WithNetworkProbe(alwaysUp), WithStore(store))
	defer sup.Close()

	if c := sup.Candidates()[0]; c.Address != "10.0.0.7" || c.Source != SourcePersisted {
		t.Errorf("first candidate = %+v, want the persisted address", c)
	}

	sup.Offer("10.0.0.5", "")
	tickUntil(t, sup, func() bool { return sup.State() == StateConnected }, "never connected")

	calls := dialer.callList()
	if calls[0] != "10.0.0.7" || calls[len(calls)-1] != "10.0.0.5" {
		t.Errorf("dial order = %v", calls)
	}
	eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.last == "10.0.0.5" && store.source == SourceMDNS
	}, "connected address not saved")
}

type memStore struct {
	mu     sync.Mutex
	last   string
	source string
}

func (s *memStore) LastAddress() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last != ""
}

func (s *memStore) RecordConnect(address, source string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last, s.source = address, source
	return nil
}

// A peer that stops answering heartbeats after counter 42 is detected,
// and the supervisor starts reconnecting on the tick after the close.
func TestSupervisorZombieSession(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	cc := clientctx.New("test", clientctx.WithClock(clock.Now))
	if _, _, err := cc.Registry.Publish(heartbeat.RequestTopic, wire.TypeInt, nil); err != nil {
		t.Fatal(err)
	}

	dialer := &fakeDialer{
		accept: map[string]bool{"10.0.0.1": true},
		onConn: func(c *peerConn) {
			c.answer = func(counter int64) bool { return counter < 42 }
			c.announceResponse()
		},
	}
	sup := NewSupervisor(cc, SupervisorConfig{Candidates: []string{"10.0.0.1"}}, dialer, WithNetworkProbe(alwaysUp))
	defer sup.Close()
	mon := heartbeat.NewMonitor(cc, heartbeat.Config{Interval: time.Second, Timeout: 2 * time.Second})

	eventually(t, func() bool {
		sup.Tick(clock.Now())
		return sup.State() == StateConnected
	}, "never connected")
	zombie := sup.Session()

	var closedAt int
	for i := 0; i < 2000 && closedAt == 0; i++ {
		now := clock.Advance(100 * time.Millisecond)
		sup.Tick(now)
		if s := sup.Session(); s != nil {
			mon.Tick(now, s)
		}
		if !zombie.IsConnected() {
			closedAt = i
		}
		time.Sleep(200 * time.Microsecond)
	}
	if closedAt == 0 {
		t.Fatalf("zombie session never closed: %+v", mon.Stats())
	}
	if !errors.Is(zombie.Err(), heartbeat.ErrPeerUnresponsive) {
		t.Errorf("closed with %v", zombie.Err())
	}
	if got := mon.Stats().Counter; got != 42 {
		t.Errorf("counter at close = %d, want 42", got)
	}

	sup.Tick(clock.Advance(100 * time.Millisecond))
	if sup.State() != StateConnecting {
		t.Errorf("state one tick after the close = %v, want CONNECTING", sup.State())
	}
	if !errors.Is(sup.Status().LastError, heartbeat.ErrPeerUnresponsive) {
		t.Errorf("LastError = %v", sup.Status().LastError)
	}
}
