package telemetry

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/posebridge/posebridge-go/pkg/fault"
	"github.com/posebridge/posebridge-go/pkg/pose"
)

type recordingLink struct {
	accept bool
	topics []string
	values [][]byte
	stamps []int64
}

func (l *recordingLink) PublishValue(name string, value any, ts int64) bool {
	if !l.accept {
		return false
	}
	l.topics = append(l.topics, name)
	l.values = append(l.values, value.([]byte))
	l.stamps = append(l.stamps, ts)
	return true
}

func TestFrameDataRoundTrip(t *testing.T) {
	want := FrameData{
		FrameCount:      12345,
		TimestampMicros: 1_700_000_000_000_000,
		Pose: pose.Pose3d{
			Translation: pose.Translation{X: 0.5, Y: -1, Z: 2},
			Rotation:    pose.Quaternion{W: 1},
		},
		IsTracking: true,
	}
	got, err := UnmarshalFrameData(want.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDeviceDataRoundTrip(t *testing.T) {
	want := DeviceData{TrackingLostCounter: 3, BatteryPercent: 87, IsTracking: false}
	got, err := UnmarshalDeviceData(want.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	b := FrameData{FrameCount: 1, Pose: pose.Pose3d{Rotation: pose.Identity()}}.Marshal()
	_, err := UnmarshalFrameData(b[:len(b)-4])
	if !errors.Is(err, ErrMalformed) || !fault.Is(err, fault.Protocol) {
		t.Errorf("err = %v", err)
	}
	if _, err := UnmarshalDeviceData([]byte{0x08}); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v", err)
	}
}

func TestFramePublisherCounts(t *testing.T) {
	p := NewFramePublisher()
	link := &recordingLink{accept: true}
	ts := time.UnixMicro(5_000_000)

	for i := 0; i < 3; i++ {
		if !p.Publish(link, Sample{Orientation: pose.Identity(), Timestamp: ts}, Health{IsTracking: true}) {
			t.Fatal("Publish rejected")
		}
	}

	link.accept = false
	if p.Publish(link, Sample{}, Health{}) {
		t.Error("Publish reported success on a rejecting link")
	}
	if p.Frames() != 4 || p.Published() != 3 {
		t.Errorf("Frames = %d, Published = %d", p.Frames(), p.Published())
	}

	for i, v := range link.values {
		fd, err := UnmarshalFrameData(v)
		if err != nil {
			t.Fatal(err)
		}
		if fd.FrameCount != uint64(i+1) || !fd.IsTracking || fd.TimestampMicros != 5_000_000 {
			t.Errorf("frame %d = %+v", i, fd)
		}
		if link.topics[i] != FrameTopic || link.stamps[i] != 5_000_000 {
			t.Errorf("frame %d sent on %s at %d", i, link.topics[i], link.stamps[i])
		}
	}

	if p.Publish(nil, Sample{}, Health{}) {
		t.Error("Publish on nil link")
	}
}

func TestPublishDevice(t *testing.T) {
	p := NewFramePublisher()
	link := &recordingLink{accept: true}

	if !p.PublishDevice(link, Health{BatteryPercent: 50, TrackingLostCounter: 2}) {
		t.Fatal("PublishDevice rejected")
	}
	d, err := UnmarshalDeviceData(link.values[0])
	if err != nil {
		t.Fatal(err)
	}
	if link.topics[0] != DeviceTopic || d.BatteryPercent != 50 || d.TrackingLostCounter != 2 {
		t.Errorf("sent %s %+v", link.topics[0], d)
	}
}

func TestSimulated(t *testing.T) {
	start := time.Unix(0, 0)
	now := start
	sim := NewSimulated()
	sim.Now = func() time.Time { return now }

	s, ok := sim.Sample()
	if !ok {
		t.Fatal("no sample")
	}
	if math.Abs(s.Position.X-1) > 1e-9 || math.Abs(s.Position.Y) > 1e-9 {
		t.Errorf("start position = %+v", s.Position)
	}
	if math.Abs(s.Orientation.Norm()-1) > 1e-9 {
		t.Errorf("orientation not unit: %+v", s.Orientation)
	}

	now = start.Add(sim.Period / 4)
	s, _ = sim.Sample()
	if math.Abs(s.Position.X) > 1e-9 || math.Abs(s.Position.Y-1) > 1e-9 {
		t.Errorf("quarter position = %+v", s.Position)
	}

	sim.SetTracking(false)
	sim.SetTracking(false)
	sim.SetTracking(true)
	sim.SetBattery(140)
	h := sim.Health()
	if h.TrackingLostCounter != 1 || !h.IsTracking || h.BatteryPercent != 100 {
		t.Errorf("Health = %+v", h)
	}

	p := NewFramePublisher()
	if err := p.PublishFrom(&recordingLink{accept: true}, sim, sim); err != nil {
		t.Errorf("PublishFrom: %v", err)
	}
}
