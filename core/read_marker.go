package core

import "time"

// ReadMarker records the last message an actor has read in a room. Markers
// only move forward.
type ReadMarker struct {
	RoomID    string    `json:"roomId" cbor:"1,keyasint"`
	ActorID   string    `json:"actorId" cbor:"2,keyasint"`
	MessageID string    `json:"messageId" cbor:"3,keyasint"`
	Seq       int64     `json:"seq" cbor:"4,keyasint"`
	ReadAt    time.Time `json:"readAt" cbor:"5,keyasint"`
}

// CountUnread counts messages sequenced after marker that were not authored by
// actorID. A nil marker counts every foreign message.
func CountUnread(actorID string, marker *ReadMarker, messages []Message) int {
	var after int64
	if marker != nil {
		after = marker.Seq
	}
	n := 0
	for _, m := range messages {
		if m.Seq > after && m.AuthorID != actorID {
			n++
		}
	}
	return n
}

// UnreadCounts computes CountUnread for every member. messages must contain
// at least every message after the lowest member marker.
func UnreadCounts(members []string, markers map[string]ReadMarker, messages []Message) map[string]int {
	out := make(map[string]int, len(members))
	for _, id := range members {
		var mk *ReadMarker
		if m, ok := markers[id]; ok {
			mk = &m
		}
		out[id] = CountUnread(id, mk, messages)
	}
	return out
}

// LowestMarkerSeq returns the smallest marker sequence across members, 0 when
// any member has no marker yet.
func LowestMarkerSeq(members []string, markers map[string]ReadMarker) int64 {
	var low int64 = -1
	for _, id := range members {
		m, ok := markers[id]
		if !ok {
			return 0
		}
		if low < 0 || m.Seq < low {
			low = m.Seq
		}
	}
	if low < 0 {
		return 0
	}
	return low
}
