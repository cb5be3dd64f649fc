// Package fixtures contains generators of MPEG-TS and fragmented MP4 payloads,
// used as literal content of virtual sources.
package fixtures
