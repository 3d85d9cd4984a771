package pebbleback

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/url"
)

// Key layout:
//
//	qmeta/{project}/{queue}                 queue directory record (JSON)
//	t/{project}/q/{queue}/msg/{marker 8B}   message record (JSON), marker big-endian
//	t/{project}/q/{queue}/id/{message_id}   message id -> marker (8B)
//
// Directory records live in their own keyspace so queue listings never scan
// message data. The marker suffix is fixed-width big-endian so a range scan
// yields messages in marker order, and key existence at msg/{marker} is the
// uniqueness constraint the post retry protocol relies on. Projects are
// opaque strings, so the project segment is path-escaped before it enters a
// key; queue names are regex-constrained and used as-is.

var (
	qmetaPrefix = []byte("qmeta/")
)

// qmetaKey returns the queue directory record key.
// Format: qmeta/{project}/{queue}
func qmetaKey(project, queue string) []byte {
	return []byte("qmeta/" + url.PathEscape(project) + "/" + queue)
}

// qmetaProjectPrefix covers one project's directory records.
func qmetaProjectPrefix(project string) []byte {
	return []byte("qmeta/" + url.PathEscape(project) + "/")
}

// parseQmetaKey recovers (project, queue) from a directory record key.
func parseQmetaKey(key []byte) (project, queue string, ok bool) {
	rest, found := bytes.CutPrefix(key, qmetaPrefix)
	if !found {
		return "", "", false
	}
	sep := bytes.IndexByte(rest, '/')
	if sep < 0 {
		return "", "", false
	}
	proj, err := url.PathUnescape(string(rest[:sep]))
	if err != nil {
		return "", "", false
	}
	return proj, string(rest[sep+1:]), true
}

// queuePrefix returns the base prefix for a queue's message data.
// Format: t/{project}/q/{queue}/
func queuePrefix(project, queue string) string {
	return fmt.Sprintf("t/%s/q/%s/", url.PathEscape(project), queue)
}

// msgKey returns the message record key for a marker.
func msgKey(project, queue string, marker uint64) []byte {
	prefix := queuePrefix(project, queue) + "msg/"
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], marker)
	return key
}

// msgPrefix returns the prefix covering all of a queue's message records.
func msgPrefix(project, queue string) []byte {
	return []byte(queuePrefix(project, queue) + "msg/")
}

// idKey returns the id-index key for a message id.
func idKey(project, queue, messageID string) []byte {
	return []byte(queuePrefix(project, queue) + "id/" + messageID)
}

// putMarker encodes a marker into an 8-byte id-index value.
func putMarker(dst []byte, marker uint64) {
	binary.BigEndian.PutUint64(dst, marker)
}

// getMarker decodes an id-index value.
func getMarker(val []byte) uint64 {
	return binary.BigEndian.Uint64(val[:8])
}

// markerFromMsgKey extracts the marker from a message record key.
func markerFromMsgKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// keyUpperBound returns the exclusive upper bound for scanning a prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix)+1)
	copy(end, prefix)
	end[len(prefix)] = 0xFF
	return end
}
