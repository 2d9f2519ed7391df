// Package buildlog reads append-only build logs into ordered build records.
//
// Two record shapes are accepted and may be mixed in one log:
//
//	{"digest": "sha256:...", "tags": ["v1", "latest"], "timestamp": "2024-05-01T10:00:00Z"}
//	{"container_hash": "sha256:...", "version": "1.2.3"}
//
// Version records expand into floating tags. A first-seen M.m.p version
// yields M, M.m and M.m.p; a repeated M.m.p yields only M.m.p so rebuilds
// never move floating tags; a version with an architecture suffix
// (1.2.3-arm64) yields only itself.
package buildlog
