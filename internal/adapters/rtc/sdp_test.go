package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

const audioSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 0\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"b=AS:128\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

func TestRemoteBitrateCeiling(t *testing.T) {
	cases := []struct {
		name string
		sdp  string
		want uint64
	}{
		{"as in kilobits", audioSDP, 128000},
		{"tias wins over as", audioSDP + "b=TIAS:32000\r\n", 32000},
		{"no bandwidth line", "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 0\r\nc=IN IP4 0.0.0.0\r\na=rtpmap:0 PCMU/8000\r\n", 0},
		{"session level applies to audio", "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nb=TIAS:16000\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 0\r\nc=IN IP4 0.0.0.0\r\na=rtpmap:0 PCMU/8000\r\n", 16000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RemoteBitrateCeiling(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: tc.sdp})
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("ceiling = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestLowerCeiling(t *testing.T) {
	if lowerCeiling(0, 0) != 0 || lowerCeiling(0, 5) != 5 || lowerCeiling(7, 0) != 7 || lowerCeiling(7, 5) != 5 {
		t.Fatal("lowerCeiling disagrees")
	}
}
