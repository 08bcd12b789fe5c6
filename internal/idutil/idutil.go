// Package idutil computes the deterministic point identifier that the
// dense index uses for idempotent upsert and O(1) payload fetch.
package idutil

import "github.com/google/uuid"

// PointID returns the RFC-4122 variant-3 (MD5, name-based) UUID derived
// from chunkID: uuid = v3(md5(utf8(chunkID))). The namespace is the nil
// UUID; this is a fixed public contract and must not change — any
// reimplementation has to match the byte layout exactly.
func PointID(chunkID string) string {
	return uuid.NewMD5(uuid.Nil, []byte(chunkID)).String()
}
