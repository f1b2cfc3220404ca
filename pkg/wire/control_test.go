package wire

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeControlPublish(t *testing.T) {
	data, err := EncodeControl(Publish("/posebridge/frameData", 3, TypeRaw, nil))
	if err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"method":"publish"`, `"name":"/posebridge/frameData"`, `"pubuid":3`, `"type":"raw"`, `"properties":{}`} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded %s missing %s", s, want)
		}
	}
	if !strings.HasPrefix(s, "[") {
		t.Errorf("control frame must be a JSON array, got %s", s)
	}
}

func TestControlRoundTrip(t *testing.T) {
	msgs := []ControlMessage{
		Publish("/a", 0, TypeDouble, map[string]any{"retained": true}),
		Subscribe(1, []string{"/posebridge/"}, SubscribeOptions{All: true, Prefix: true}),
		Unsubscribe(1),
		Unpublish(0),
	}
	data, err := EncodeControl(msgs...)
	if err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}
	got, err := DecodeControl(data)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("decoded %d messages, want %d", len(got), len(msgs))
	}

	pub, err := DecodeParams[PublishParams](got[0], MethodPublish)
	if err != nil {
		t.Fatalf("publish params: %v", err)
	}
	if pub.Name != "/a" || pub.PubUID != 0 || pub.Type != "double" || pub.Properties["retained"] != true {
		t.Errorf("publish params = %+v", pub)
	}

	sub, err := DecodeParams[SubscribeParams](got[1], MethodSubscribe)
	if err != nil {
		t.Fatalf("subscribe params: %v", err)
	}
	if sub.SubUID != 1 || !sub.Options.All || !sub.Options.Prefix || len(sub.Topics) != 1 {
		t.Errorf("subscribe params = %+v", sub)
	}
}

func TestDecodeAnnounce(t *testing.T) {
	data := []byte(`[{"method":"announce","params":{"name":"/posebridge/request","id":17,"type":"raw","properties":{}}}]`)
	msgs, err := DecodeControl(data)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	ann, err := DecodeParams[AnnounceParams](msgs[0], MethodAnnounce)
	if err != nil {
		t.Fatalf("DecodeParams: %v", err)
	}
	if ann.ID != 17 || ann.Name != "/posebridge/request" || ann.PubUID != nil {
		t.Errorf("announce = %+v", ann)
	}
}

func TestDecodeParamsWrongMethod(t *testing.T) {
	msg := Unpublish(2)
	if _, err := DecodeParams[AnnounceParams](msg, MethodAnnounce); !errors.Is(err, ErrUnexpectedMethod) {
		t.Errorf("err = %v, want ErrUnexpectedMethod", err)
	}
}

func TestDecodeControlMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{`},
		{"object not array", `{"method":"announce"}`},
		{"missing method", `[{"params":{}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeControl([]byte(tt.data)); !errors.Is(err, ErrMalformedControl) {
				t.Errorf("err = %v, want ErrMalformedControl", err)
			}
		})
	}
}
