// Package identity implements the fabric's identifiers: cluster connection ids,
// room hashes, and the channel id generators that key the overlay pub/sub namespace.
package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ClusterConnId identifies a single session on a single worker of a single node.
// It stringifies as "{node}-{session}-{worker},{index}" and round-trips through
// ParseClusterConnId.
type ClusterConnId struct {
	NodeID      uint32
	NodeSession uint64
	Worker      uint16
	Index       uint
}

// String renders the canonical wire form.
func (c ClusterConnId) String() string {
	return fmt.Sprintf("%d-%d-%d,%d", c.NodeID, c.NodeSession, c.Worker, c.Index)
}

// ParseClusterConnId parses the canonical wire form produced by String.
func ParseClusterConnId(s string) (ClusterConnId, error) {
	main, idxPart, ok := strings.Cut(s, ",")
	if !ok {
		return ClusterConnId{}, fmt.Errorf("identity: malformed cluster conn id %q: missing index separator", s)
	}
	parts := strings.Split(main, "-")
	if len(parts) != 3 {
		return ClusterConnId{}, fmt.Errorf("identity: malformed cluster conn id %q: want 3 dash-separated fields", s)
	}
	node, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return ClusterConnId{}, fmt.Errorf("identity: malformed node id in %q: %w", s, err)
	}
	session, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return ClusterConnId{}, fmt.Errorf("identity: malformed node session in %q: %w", s, err)
	}
	worker, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return ClusterConnId{}, fmt.Errorf("identity: malformed worker in %q: %w", s, err)
	}
	index, err := strconv.ParseUint(idxPart, 10, 64)
	if err != nil {
		return ClusterConnId{}, fmt.Errorf("identity: malformed index in %q: %w", s, err)
	}
	return ClusterConnId{
		NodeID:      uint32(node),
		NodeSession: session,
		Worker:      uint16(worker),
		Index:       uint(index),
	}, nil
}

// RoomId, PeerId, and TrackName are opaque unicode identifiers supplied by callers.
type (
	RoomId    string
	PeerId    string
	TrackName string
)

// ClusterRoomHash is a deterministic 64-bit digest of (appID, room). Collision-free
// within a tenant is assumed, not enforced.
type ClusterRoomHash uint64

// HashRoom computes the room hash from an app id and room name.
func HashRoom(appID string, room RoomId) ClusterRoomHash {
	d := xxhash.New()
	_, _ = d.WriteString(appID)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(string(room))
	return ClusterRoomHash(d.Sum64())
}

// ChannelId is an overlay pub/sub topic id. The room hash is always folded into the
// digest input so channel ids never collide across rooms sharing a process.
type ChannelId uint64

// GenChannelId derives a media channel id from room+peer+track.
func GenChannelId(room ClusterRoomHash, peer PeerId, track TrackName) ChannelId {
	return hashParts(room, "media", string(peer), string(track))
}

// GenDatachannelId derives a datachannel id from room+endpoint+key.
func GenDatachannelId(room ClusterRoomHash, endpoint PeerId, key string) ChannelId {
	return hashParts(room, "dc", string(endpoint), key)
}

// GenMsgChannelId derives a message-channel id from room+label.
func GenMsgChannelId(room ClusterRoomHash, label string) ChannelId {
	return hashParts(room, "msg", label)
}

func hashParts(room ClusterRoomHash, parts ...string) ChannelId {
	d := xxhash.New()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(room) >> (8 * i))
	}
	_, _ = d.Write(buf[:])
	for _, p := range parts {
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(p)
	}
	return ChannelId(d.Sum64())
}

// HashPeer computes a room-independent 32-bit digest of a peer id, used by
// the Auto audio mixer to tag AudioMixerPkt.peer_hash for the subscriber's
// "never hear yourself" skip (spec §4.3).
func HashPeer(peer PeerId) uint32 {
	return uint32(xxhash.Sum64String(string(peer)))
}

// LocalTrackId and RemoteTrackId are scoped per endpoint.
type (
	LocalTrackId  uint16
	RemoteTrackId uint16
)
