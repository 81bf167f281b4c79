package webrtc

import (
	"testing"

	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/voicetyped/mediafabric/internal/wire"
)

func TestSimLayer(t *testing.T) {
	cases := map[string]int{"q": 0, "h": 1, "f": 2, "": 0, "bogus": 0}
	for rid, want := range cases {
		if got := simLayer(rid); got != want {
			t.Errorf("simLayer(%q) = %d, want %d", rid, got, want)
		}
	}
}

func TestIsVP8Keyframe(t *testing.T) {
	if !isVP8Keyframe([]byte{0x00}) {
		t.Errorf("payload with P-bit clear should be a keyframe")
	}
	if isVP8Keyframe([]byte{0x01}) {
		t.Errorf("payload with P-bit set should not be a keyframe")
	}
	if isVP8Keyframe(nil) {
		t.Errorf("empty payload should not be a keyframe")
	}
}

func TestIsVP9Keyframe(t *testing.T) {
	if !isVP9Keyframe([]byte{0x00}) {
		t.Errorf("payload with bit 0x40 clear should be a keyframe")
	}
	if isVP9Keyframe([]byte{0x40}) {
		t.Errorf("payload with bit 0x40 set should not be a keyframe")
	}
}

func TestIsH264Keyframe(t *testing.T) {
	if !isH264Keyframe([]byte{5}) {
		t.Errorf("NAL type 5 (IDR slice) should be a keyframe")
	}
	if !isH264Keyframe([]byte{7}) {
		t.Errorf("NAL type 7 (SPS) should be a keyframe")
	}
	if isH264Keyframe([]byte{1}) {
		t.Errorf("NAL type 1 (non-IDR slice) should not be a keyframe")
	}
}

func TestMetaForCodecOpus(t *testing.T) {
	meta := metaForCodec(pionwebrtc.MimeTypeOpus, []byte{42})
	if meta.Kind != wire.MetaOpus || meta.AudioLevel != 42 {
		t.Fatalf("metaForCodec(opus) = %+v", meta)
	}
}

func TestMetaForCodecVP8Key(t *testing.T) {
	meta := metaForCodec(pionwebrtc.MimeTypeVP8, []byte{0x00})
	if meta.Kind != wire.MetaVP8 || !meta.Key {
		t.Fatalf("metaForCodec(vp8, keyframe) = %+v", meta)
	}
}
