// Package wire implements the on-wire encoding for media packets and
// pre-mixed audio packets (spec §6 "Endpoint session wire encoding").
package wire

import (
	"encoding/binary"
	"fmt"
)

// MediaKind classifies a track as audio or video.
type MediaKind int

const (
	Audio MediaKind = iota
	Video
)

// SampleRate returns the RTP clock rate associated with the kind, used to
// seed the timestamp rewriter (spec §4.4). Video always runs a 90kHz clock;
// audio (Opus) runs 48kHz in this fabric.
func (k MediaKind) SampleRate() int64 {
	if k == Video {
		return 90000
	}
	return 48000
}

func (k MediaKind) IsVideo() bool { return k == Video }

// MetaKind tags which arm of the MediaMeta union is populated.
type MetaKind uint8

const (
	MetaOpus MetaKind = iota
	MetaH264
	MetaVP8
	MetaVP9
)

// Simulcast describes a simulcast layer: an independently encoded spatial
// stream identified by RID-derived layer index, roughly ordered by bitrate.
type Simulcast struct {
	Layer int
}

// SVC describes a scalable-video-coding layer pair.
type SVC struct {
	Spatial  int
	Temporal int
}

// MediaMeta is the tagged union carried alongside each media packet, per
// spec §6: {Opus{audio_level}, H264{key,profile,sim?}, Vp8{key,sim?},
// Vp9{key,profile,svc?}}. It is a plain struct rather than an interface so
// the packet selector can switch on Kind without dynamic dispatch (spec §9).
type MediaMeta struct {
	Kind       MetaKind
	AudioLevel int8
	Key        bool
	Profile    string
	Sim        *Simulcast
	Svc        *SVC
}

// IsVideoKey reports whether this packet carries a video keyframe.
func (m MediaMeta) IsVideoKey() bool {
	return m.Kind != MetaOpus && m.Key
}

// MediaPacket is the selector/allocator unit of work: an RTP-derived packet
// plus its decoded meta.
type MediaPacket struct {
	Seq      uint16
	Ts       uint32
	Marker   bool
	Nackable bool
	Meta     MediaMeta
	Data     []byte
}

// Clone deep-copies the packet, used when fanning one channel's data out to
// many subscribers (spec §4.2.2 "fan-out LocalTrack::Media(pkt.clone())").
func (p MediaPacket) Clone() MediaPacket {
	out := p
	out.Data = append([]byte(nil), p.Data...)
	return out
}

// Encode serializes a MediaPacket to its compact on-wire form:
// seq:u16 | ts:u32 | flags:u8 | meta | data_len:u32 | data.
func Encode(p MediaPacket) []byte {
	meta := encodeMeta(p.Meta)
	buf := make([]byte, 2+4+1+len(meta)+4+len(p.Data))
	off := 0
	binary.BigEndian.PutUint16(buf[off:], p.Seq)
	off += 2
	binary.BigEndian.PutUint32(buf[off:], p.Ts)
	off += 4
	var flags uint8
	if p.Marker {
		flags |= 1
	}
	if p.Nackable {
		flags |= 2
	}
	buf[off] = flags
	off++
	off += copy(buf[off:], meta)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(p.Data)))
	off += 4
	copy(buf[off:], p.Data)
	return buf
}

// Decode is the inverse of Encode.
func Decode(buf []byte) (MediaPacket, error) {
	if len(buf) < 2+4+1 {
		return MediaPacket{}, fmt.Errorf("wire: media packet too short: %d bytes", len(buf))
	}
	off := 0
	seq := binary.BigEndian.Uint16(buf[off:])
	off += 2
	ts := binary.BigEndian.Uint32(buf[off:])
	off += 4
	flags := buf[off]
	off++
	meta, n, err := decodeMeta(buf[off:])
	if err != nil {
		return MediaPacket{}, err
	}
	off += n
	if len(buf) < off+4 {
		return MediaPacket{}, fmt.Errorf("wire: media packet truncated before data length")
	}
	dataLen := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if uint32(len(buf)-off) < dataLen {
		return MediaPacket{}, fmt.Errorf("wire: media packet truncated data: want %d, have %d", dataLen, len(buf)-off)
	}
	data := append([]byte(nil), buf[off:off+int(dataLen)]...)
	return MediaPacket{
		Seq:      seq,
		Ts:       ts,
		Marker:   flags&1 != 0,
		Nackable: flags&2 != 0,
		Meta:     meta,
		Data:     data,
	}, nil
}

func encodeMeta(m MediaMeta) []byte {
	switch m.Kind {
	case MetaOpus:
		return []byte{byte(MetaOpus), byte(m.AudioLevel)}
	case MetaH264, MetaVP8, MetaVP9:
		var key byte
		if m.Key {
			key = 1
		}
		hasLayer := byte(0)
		layer1, layer2 := byte(0), byte(0)
		if m.Sim != nil {
			hasLayer = 1
			layer1 = byte(m.Sim.Layer)
		} else if m.Svc != nil {
			hasLayer = 2
			layer1 = byte(m.Svc.Spatial)
			layer2 = byte(m.Svc.Temporal)
		}
		profile := []byte(m.Profile)
		buf := make([]byte, 1+1+1+1+1+1+len(profile))
		buf[0] = byte(m.Kind)
		buf[1] = key
		buf[2] = hasLayer
		buf[3] = layer1
		buf[4] = layer2
		buf[5] = byte(len(profile))
		copy(buf[6:], profile)
		return buf
	default:
		return []byte{byte(m.Kind)}
	}
}

func decodeMeta(buf []byte) (MediaMeta, int, error) {
	if len(buf) < 1 {
		return MediaMeta{}, 0, fmt.Errorf("wire: meta too short")
	}
	kind := MetaKind(buf[0])
	switch kind {
	case MetaOpus:
		if len(buf) < 2 {
			return MediaMeta{}, 0, fmt.Errorf("wire: opus meta truncated")
		}
		return MediaMeta{Kind: MetaOpus, AudioLevel: int8(buf[1])}, 2, nil
	case MetaH264, MetaVP8, MetaVP9:
		if len(buf) < 6 {
			return MediaMeta{}, 0, fmt.Errorf("wire: video meta truncated")
		}
		m := MediaMeta{Kind: kind, Key: buf[1] != 0}
		switch buf[2] {
		case 1:
			m.Sim = &Simulcast{Layer: int(buf[3])}
		case 2:
			m.Svc = &SVC{Spatial: int(buf[3]), Temporal: int(buf[4])}
		}
		profileLen := int(buf[5])
		if len(buf) < 6+profileLen {
			return MediaMeta{}, 0, fmt.Errorf("wire: video meta profile truncated")
		}
		if profileLen > 0 {
			m.Profile = string(buf[6 : 6+profileLen])
		}
		return m, 6 + profileLen, nil
	default:
		return MediaMeta{}, 0, fmt.Errorf("wire: unknown meta kind %d", kind)
	}
}

// AudioMixerPkt is the pre-mixed, auto-mixer wire shape from spec §6:
// {slot:u8, peer_hash:u32, track:u16, audio_level:i8, ts:u32, seq:u16, opus_payload:bytes}.
type AudioMixerPkt struct {
	Slot        uint8
	PeerHash    uint32
	Track       uint16
	AudioLevel  int8
	Ts          uint32
	Seq         uint16
	OpusPayload []byte
}

// EncodeAudioMixerPkt serializes an AudioMixerPkt.
func EncodeAudioMixerPkt(p AudioMixerPkt) []byte {
	buf := make([]byte, 1+4+2+1+4+2+4+len(p.OpusPayload))
	off := 0
	buf[off] = p.Slot
	off++
	binary.BigEndian.PutUint32(buf[off:], p.PeerHash)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], p.Track)
	off += 2
	buf[off] = byte(p.AudioLevel)
	off++
	binary.BigEndian.PutUint32(buf[off:], p.Ts)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], p.Seq)
	off += 2
	binary.BigEndian.PutUint32(buf[off:], uint32(len(p.OpusPayload)))
	off += 4
	copy(buf[off:], p.OpusPayload)
	return buf
}

// DecodeAudioMixerPkt is the inverse of EncodeAudioMixerPkt.
func DecodeAudioMixerPkt(buf []byte) (AudioMixerPkt, error) {
	const headerLen = 1 + 4 + 2 + 1 + 4 + 2 + 4
	if len(buf) < headerLen {
		return AudioMixerPkt{}, fmt.Errorf("wire: audio mixer packet too short: %d bytes", len(buf))
	}
	off := 0
	p := AudioMixerPkt{}
	p.Slot = buf[off]
	off++
	p.PeerHash = binary.BigEndian.Uint32(buf[off:])
	off += 4
	p.Track = binary.BigEndian.Uint16(buf[off:])
	off += 2
	p.AudioLevel = int8(buf[off])
	off++
	p.Ts = binary.BigEndian.Uint32(buf[off:])
	off += 4
	p.Seq = binary.BigEndian.Uint16(buf[off:])
	off += 2
	payloadLen := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if uint32(len(buf)-off) < payloadLen {
		return AudioMixerPkt{}, fmt.Errorf("wire: audio mixer packet truncated payload: want %d, have %d", payloadLen, len(buf)-off)
	}
	p.OpusPayload = append([]byte(nil), buf[off:off+int(payloadLen)]...)
	return p, nil
}
