package audio_test

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/chorus/internal/client/audio"
	"github.com/pion/webrtc/v4/pkg/media"
)

func pcmuFrame() media.Sample {
	return media.Sample{Data: make([]byte, audio.FrameSamples), Duration: 20 * time.Millisecond}
}

// stream writes n frames, one every 20ms of mock time.
func stream(t *testing.T, mock *clock.Mock, w audio.SampleWriter, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := w.WriteSample(pcmuFrame()); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
		mock.Add(20 * time.Millisecond)
	}
}

func TestSenderWithoutCeilingPassesEverything(t *testing.T) {
	mock := clock.NewMock()
	s, err := audio.NewSender("local", mock)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	stream(t, mock, s, 50)
	if sent, dropped := s.Stats(); sent != 50 || dropped != 0 {
		t.Fatalf("sent=%d dropped=%d, want 50/0", sent, dropped)
	}
}

func TestSenderCeilingAppliesMidStream(t *testing.T) {
	mock := clock.NewMock()
	s, err := audio.NewSender("local", mock)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	stream(t, mock, s, 10)

	// PCMU needs ~69 kbps with headers; 8 kbps lets about one frame in eight through
	s.SetBitrateCeiling(8000)
	stream(t, mock, s, 50)
	sent, dropped := s.Stats()
	capped := sent - 10
	if capped < 2 || capped > 9 || capped+dropped != 50 {
		t.Fatalf("under ceiling: sent=%d dropped=%d", capped, dropped)
	}

	s.SetBitrateCeiling(0)
	stream(t, mock, s, 20)
	if after, d := s.Stats(); after != sent+20 || d != dropped {
		t.Fatalf("after lifting ceiling: sent=%d dropped=%d", after-sent, d-dropped)
	}
	if s.BitrateCeiling() != 0 {
		t.Fatalf("ceiling = %d", s.BitrateCeiling())
	}
}

func TestSenderCeilingAboveCodecRateDropsNothing(t *testing.T) {
	mock := clock.NewMock()
	s, err := audio.NewSender("local", mock)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	s.SetBitrateCeiling(128000)
	stream(t, mock, s, 100)
	if _, dropped := s.Stats(); dropped != 0 {
		t.Fatalf("dropped %d frames under a generous ceiling", dropped)
	}
}

func TestFanoutCopiesToEverySender(t *testing.T) {
	mock := clock.NewMock()
	f := audio.NewFanout()
	a, _ := audio.NewSender("a", mock)
	b, _ := audio.NewSender("b", mock)
	f.Add(a)
	removeB := f.Add(b)

	stream(t, mock, f, 3)
	removeB()
	stream(t, mock, f, 2)

	if sent, _ := a.Stats(); sent != 5 {
		t.Fatalf("a sent %d, want 5", sent)
	}
	if sent, _ := b.Stats(); sent != 3 {
		t.Fatalf("b sent %d, want 3", sent)
	}
	if f.Len() != 1 {
		t.Fatalf("fanout len = %d", f.Len())
	}
}
