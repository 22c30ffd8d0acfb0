package pebblestore

import (
	"fmt"
	"net/url"
	"strconv"
)

// Key layout. Ids are query-escaped so ':' never appears inside a segment.
//
//	room:<room>                      Room
//	room:<room>:m:<seq %020d>        Message
//	room:<room>:mid:<message>        sequence number (decimal)
//	room:<room>:rm:<actor>           ReadMarker
//	actor:<actor>                    Actor
//	handle:<handle key>              actor id
//	def:<definition>                 AgentDefinition
//	defbind:<definition>             agent actor id
//	rel:<from>:<to>:<kind>           Relationship

func esc(id string) string { return url.QueryEscape(id) }

func roomKey(roomID string) []byte { return []byte("room:" + esc(roomID)) }

func messagePrefix(roomID string) []byte { return []byte("room:" + esc(roomID) + ":m:") }

func messageKey(roomID string, seq int64) []byte {
	return []byte(fmt.Sprintf("room:%s:m:%020d", esc(roomID), seq))
}

func messageIDKey(roomID, messageID string) []byte {
	return []byte("room:" + esc(roomID) + ":mid:" + esc(messageID))
}

func markerPrefix(roomID string) []byte { return []byte("room:" + esc(roomID) + ":rm:") }

func markerKey(roomID, actorID string) []byte {
	return append(markerPrefix(roomID), esc(actorID)...)
}

func actorKey(actorID string) []byte { return []byte("actor:" + esc(actorID)) }

func handleKey(key string) []byte { return []byte("handle:" + esc(key)) }

func defKey(defID string) []byte { return []byte("def:" + esc(defID)) }

func defBindKey(defID string) []byte { return []byte("defbind:" + esc(defID)) }

func relPrefix(fromID string) []byte { return []byte("rel:" + esc(fromID) + ":") }

func relKey(fromID, toID, kind string) []byte {
	return []byte("rel:" + esc(fromID) + ":" + esc(toID) + ":" + esc(kind))
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func formatSeq(seq int64) []byte { return []byte(strconv.FormatInt(seq, 10)) }

func parseSeq(b []byte) (int64, error) { return strconv.ParseInt(string(b), 10, 64) }
