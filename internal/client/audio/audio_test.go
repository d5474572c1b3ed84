package audio_test

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/chorus/internal/client/audio"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/zaf/g711"
)

func TestGainApply(t *testing.T) {
	cases := []struct {
		name   string
		volume float64
		muted  bool
		in     []int16
		want   []int16
	}{
		{"unity", 1, false, []int16{100, -100}, []int16{100, -100}},
		{"half", 0.5, false, []int16{100, -100}, []int16{50, -50}},
		{"saturates", 2, false, []int16{30000, -30000}, []int16{math.MaxInt16, math.MinInt16}},
		{"muted", 1, true, []int16{100, -100}, []int16{0, 0}},
		{"clamped negative", -3, false, []int16{100}, []int16{0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := audio.NewGain(tc.volume)
			g.SetMuted(tc.muted)
			buf := append([]int16(nil), tc.in...)
			g.Apply(buf)
			for i := range buf {
				if buf[i] != tc.want[i] {
					t.Fatalf("sample %d = %d, want %d", i, buf[i], tc.want[i])
				}
			}
		})
	}
}

func TestGainClampsHigh(t *testing.T) {
	g := audio.NewGain(10)
	if g.Volume() != audio.MaxVolume {
		t.Fatalf("volume = %v", g.Volume())
	}
}

type recorder struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (r *recorder) WriteSample(s media.Sample) error {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func TestGraphMutedFrameIsSilence(t *testing.T) {
	gain := audio.NewGain(1)
	g := audio.NewGraph(audio.NewTone(440), gain, &recorder{}, nil)

	loud, err := g.Frame(make([]int16, audio.FrameSamples))
	if err != nil {
		t.Fatal(err)
	}
	if len(loud) != audio.FrameSamples {
		t.Fatalf("frame = %d bytes", len(loud))
	}

	gain.SetMuted(true)
	quiet, err := g.Frame(make([]int16, audio.FrameSamples))
	if err != nil {
		t.Fatal(err)
	}
	silence := g711.EncodeUlawFrame(0)
	for i, b := range quiet {
		if b != silence {
			t.Fatalf("byte %d = %#x, want silence %#x", i, b, silence)
		}
	}
}

func TestGraphRunPacesFrames(t *testing.T) {
	mock := clock.NewMock()
	rec := &recorder{}
	g := audio.NewGraph(audio.NewTone(440), audio.NewGain(1), rec, mock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	for i := 0; i < 5; i++ {
		time.Sleep(5 * time.Millisecond)
		mock.Add(20 * time.Millisecond)
	}
	deadline := time.Now().Add(time.Second)
	for rec.len() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if rec.len() != 5 {
		t.Fatalf("frames = %d", rec.len())
	}
}

type failing struct{}

func (failing) Read([]int16) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestGraphStopsOnSourceError(t *testing.T) {
	mock := clock.NewMock()
	g := audio.NewGraph(failing{}, audio.NewGain(1), &recorder{}, mock)
	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()
	time.Sleep(5 * time.Millisecond)
	mock.Add(20 * time.Millisecond)
	select {
	case err := <-done:
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("graph kept running")
	}
}

type pcmSink struct {
	mu  sync.Mutex
	got map[domain.UserID]int
}

func (s *pcmSink) Write(from domain.UserID, pcm []byte) {
	s.mu.Lock()
	s.got[from] += len(pcm)
	s.mu.Unlock()
}

func (s *pcmSink) bytes(from domain.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got[from]
}

func packets(n int) audio.PacketSource {
	ch := make(chan *rtp.Packet, n)
	for i := 0; i < n; i++ {
		ch <- &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}, Payload: make([]byte, audio.FrameSamples)}
	}
	close(ch)
	return func() (*rtp.Packet, error) {
		p, ok := <-ch
		if !ok {
			return nil, io.EOF
		}
		return p, nil
	}
}

func TestPlayoutDecodesUntilEOF(t *testing.T) {
	sink := &pcmSink{got: map[domain.UserID]int{}}
	m := audio.NewPlayouts(sink)
	p := m.Start(context.Background(), "bob", packets(3))

	deadline := time.Now().Add(time.Second)
	for p.State() != audio.PlayoutStopped && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Packets() != 3 {
		t.Fatalf("packets = %d", p.Packets())
	}
	// PCMU expands to 16-bit samples
	if got := sink.bytes("bob"); got != 3*2*audio.FrameSamples {
		t.Fatalf("decoded bytes = %d", got)
	}
}

func TestPlayoutMutedDropsAudio(t *testing.T) {
	sink := &pcmSink{got: map[domain.UserID]int{}}
	m := audio.NewPlayouts(sink)
	block := make(chan struct{})
	first := true
	src := func() (*rtp.Packet, error) {
		if first {
			first = false
			<-block
			return &rtp.Packet{Payload: make([]byte, 160)}, nil
		}
		return nil, io.EOF
	}
	p := m.Start(context.Background(), "bob", src)
	m.SetMuted("bob", true)
	close(block)

	deadline := time.Now().Add(time.Second)
	for p.State() != audio.PlayoutStopped && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Packets() != 1 || sink.bytes("bob") != 0 {
		t.Fatalf("packets=%d bytes=%d", p.Packets(), sink.bytes("bob"))
	}
}

func TestPlayoutsReplaceAndStop(t *testing.T) {
	m := audio.NewPlayouts(&audio.Discard{})
	block := make(chan struct{})
	src := func() (*rtp.Packet, error) { <-block; return nil, io.EOF }

	old := m.Start(context.Background(), "bob", src)
	m.Start(context.Background(), "bob", src)
	if old.State() != audio.PlayoutStopped {
		t.Fatal("replaced playout still running")
	}
	if m.Len() != 1 {
		t.Fatalf("len = %d", m.Len())
	}
	m.Stop("bob")
	m.StopAll()
	if m.Len() != 0 {
		t.Fatal("stop kept playout")
	}
	close(block)
}
