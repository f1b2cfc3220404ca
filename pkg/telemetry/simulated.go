package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/posebridge/posebridge-go/pkg/pose"
)

// Simulated is a PoseSource and HealthSource that walks a circle of
// Radius meters once per Period. It stands in for a tracker on the bench.
type Simulated struct {
	Radius float64
	Period time.Duration
	Now    func() time.Time

	mu       sync.Mutex
	start    time.Time
	tracking bool
	lost     uint32
	battery  uint32
}

// NewSimulated creates a simulated tracker that is tracking at full charge.
func NewSimulated() *Simulated {
	return &Simulated{
		Radius:   1,
		Period:   10 * time.Second,
		Now:      time.Now,
		tracking: true,
		battery:  100,
	}
}

// Sample returns the pose for the current time.
func (s *Simulated) Sample() (Sample, bool) {
	now := s.Now()

	s.mu.Lock()
	if s.start.IsZero() {
		s.start = now
	}
	elapsed := now.Sub(s.start)
	s.mu.Unlock()

	theta := 2 * math.Pi * elapsed.Seconds() / s.Period.Seconds()
	return Sample{
		Position: pose.Translation{
			X: s.Radius * math.Cos(theta),
			Y: s.Radius * math.Sin(theta),
		},
		// Yaw follows the tangent of the circle.
		Orientation: pose.Quaternion{
			W: math.Cos((theta + math.Pi/2) / 2),
			Z: math.Sin((theta + math.Pi/2) / 2),
		},
		Timestamp: now,
	}, true
}

// SetTracking flips the tracking flag. Losing tracking bumps the
// tracking-lost counter.
func (s *Simulated) SetTracking(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracking && !on {
		s.lost++
	}
	s.tracking = on
}

// SetBattery sets the reported battery level, clamped to 0..100.
func (s *Simulated) SetBattery(percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battery = uint32(min(max(percent, 0), 100))
}

// Health returns the simulated device state.
func (s *Simulated) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Health{
		BatteryPercent:      s.battery,
		TrackingLostCounter: s.lost,
		IsTracking:          s.tracking,
	}
}
