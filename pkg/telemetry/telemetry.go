// Package telemetry publishes pose samples and device health to the
// controller.
//
//	message FrameData  { uint64 frame_count = 1; int64 timestamp_micros = 2; Pose3d pose = 3; bool is_tracking = 4; }
//	message DeviceData { uint32 tracking_lost_counter = 1; uint32 battery_percent = 2; bool is_tracking = 3; }
package telemetry

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/posebridge/posebridge-go/pkg/fault"
	"github.com/posebridge/posebridge-go/pkg/pose"
)

// Well-known telemetry topics. Both carry raw protobuf payloads.
const (
	FrameTopic  = "/posebridge/frameData"
	DeviceTopic = "/posebridge/deviceData"
)

// ErrMalformed is returned by the decoders.
var ErrMalformed = fault.New(fault.Protocol, "malformed telemetry message")

// Sample is one pose reading.
type Sample struct {
	Position    pose.Translation
	Orientation pose.Quaternion
	Timestamp   time.Time
}

// Pose returns the sample as a Pose3d.
func (s Sample) Pose() pose.Pose3d {
	return pose.Pose3d{Translation: s.Position, Rotation: s.Orientation}
}

// PoseSource provides the current pose. ok is false when no sample is
// available yet.
type PoseSource interface {
	Sample() (s Sample, ok bool)
}

// Health is the device state reported alongside poses.
type Health struct {
	BatteryPercent      uint32
	TrackingLostCounter uint32
	IsTracking          bool
}

// HealthSource provides device health.
type HealthSource interface {
	Health() Health
}

// FrameData is the payload of FrameTopic.
type FrameData struct {
	FrameCount      uint64
	TimestampMicros int64
	Pose            pose.Pose3d
	IsTracking      bool
}

// DeviceData is the payload of DeviceTopic.
type DeviceData struct {
	TrackingLostCounter uint32
	BatteryPercent      uint32
	IsTracking          bool
}

// Marshal encodes f.
func (f FrameData) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, f.FrameCount)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.TimestampMicros))
	b = f.Pose.AppendField(b, 3)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(f.IsTracking))
}

// UnmarshalFrameData decodes a FrameData message.
func UnmarshalFrameData(b []byte) (FrameData, error) {
	var f FrameData
	err := pose.Walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			f.FrameCount = x
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			f.TimestampMicros = int64(x)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			p, err := pose.Unmarshal(body)
			f.Pose = p
			return n, err
		case num == 4 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			f.IsTracking = protowire.DecodeBool(x)
			return n, nil
		default:
			return pose.Skip(num, typ, v)
		}
	})
	if err != nil {
		return FrameData{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return f, nil
}

// Marshal encodes d.
func (d DeviceData) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.TrackingLostCounter))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.BatteryPercent))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(d.IsTracking))
}

// UnmarshalDeviceData decodes a DeviceData message.
func UnmarshalDeviceData(b []byte) (DeviceData, error) {
	var d DeviceData
	err := pose.Walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.VarintType || num < 1 || num > 3 {
			return pose.Skip(num, typ, v)
		}
		x, n := protowire.ConsumeVarint(v)
		switch num {
		case 1:
			d.TrackingLostCounter = uint32(x)
		case 2:
			d.BatteryPercent = uint32(x)
		case 3:
			d.IsTracking = protowire.DecodeBool(x)
		}
		return n, nil
	})
	if err != nil {
		return DeviceData{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return d, nil
}

// Link is the part of a session the publisher needs.
type Link interface {
	PublishValue(name string, value any, timestampMicros int64) bool
}

// ErrNoSample is returned by Publish when the source has nothing yet.
var ErrNoSample = errors.New("no pose sample")

// FramePublisher numbers and publishes pose frames. The frame counter
// keeps counting across sessions.
type FramePublisher struct {
	frameTopic  string
	deviceTopic string

	frames    atomic.Uint64
	published atomic.Uint64
}

// NewFramePublisher creates a publisher for the well-known topics.
func NewFramePublisher() *FramePublisher {
	return &FramePublisher{frameTopic: FrameTopic, deviceTopic: DeviceTopic}
}

// Publish sends one frame. It reports whether the session accepted it.
func (p *FramePublisher) Publish(sess Link, s Sample, h Health) bool {
	fd := FrameData{
		FrameCount: p.frames.Add(1),
		Pose:       s.Pose(),
		IsTracking: h.IsTracking,
	}
	if !s.Timestamp.IsZero() {
		fd.TimestampMicros = s.Timestamp.UnixMicro()
	}
	if sess == nil || !sess.PublishValue(p.frameTopic, fd.Marshal(), fd.TimestampMicros) {
		return false
	}
	p.published.Add(1)
	return true
}

// PublishFrom samples src and publishes the result.
func (p *FramePublisher) PublishFrom(sess Link, src PoseSource, health HealthSource) error {
	s, ok := src.Sample()
	if !ok {
		return ErrNoSample
	}
	var h Health
	if health != nil {
		h = health.Health()
	}
	if !p.Publish(sess, s, h) {
		return fmt.Errorf("frame %d dropped", p.frames.Load())
	}
	return nil
}

// PublishDevice sends the health record.
func (p *FramePublisher) PublishDevice(sess Link, h Health) bool {
	d := DeviceData{
		TrackingLostCounter: h.TrackingLostCounter,
		BatteryPercent:      h.BatteryPercent,
		IsTracking:          h.IsTracking,
	}
	return sess != nil && sess.PublishValue(p.deviceTopic, d.Marshal(), 0)
}

// Frames returns the number of frames numbered so far.
func (p *FramePublisher) Frames() uint64 { return p.frames.Load() }

// Published returns the number of frames the session accepted.
func (p *FramePublisher) Published() uint64 { return p.published.Load() }
