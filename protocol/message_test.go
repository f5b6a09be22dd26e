package protocol

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := New(TypeChannelRequest, 3, map[string]any{"service": "echo", "count": 2})

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Type != m.Type || got.Channel != m.Channel {
		t.Fatalf("got %+v, want type/channel %q/%d", got, m.Type, m.Channel)
	}
	if got.String("service") != "echo" {
		t.Errorf("service = %q, want echo", got.String("service"))
	}
	if got.Int("count") != 2 {
		t.Errorf("count = %d, want 2", got.Int("count"))
	}
}

func TestIsConnectionMessage(t *testing.T) {
	cases := []struct {
		channel int
		want    bool
	}{
		{0, true},
		{1, false},
		{2, false},
	}
	for _, c := range cases {
		if got := IsConnectionMessage(New(TypeSetup, c.channel, nil)); got != c.want {
			t.Errorf("IsConnectionMessage(channel=%d) = %v, want %v", c.channel, got, c.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want Kind
	}{
		{"setup", New(TypeSetup, 0, nil), KindConnection},
		{"channel opened", New(TypeChannelOpened, 1, nil), KindChannelLifecycle},
		{"channel payload", New("ECHO", 1, nil), KindChannelPayload},
	}
	for _, c := range cases {
		if got := Classify(c.msg); got != c.want {
			t.Errorf("%s: Classify = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestStringAndIntAccessorsOnMissingOrWrongType(t *testing.T) {
	m := New(TypeSetup, 0, map[string]any{"name": "x", "count": "not-a-number"})
	if got := m.String("missing"); got != "" {
		t.Errorf("String(missing) = %q, want empty", got)
	}
	if got := m.Int("missing"); got != 0 {
		t.Errorf("Int(missing) = %d, want 0", got)
	}
	if got := m.Int("count"); got != 0 {
		t.Errorf("Int(count) with wrong type = %d, want 0", got)
	}
}
