// Package cache implements the versioned bucket store behind the offline
// worker. A Store owns named buckets (one per worker version, e.g.
// brightway-pwa-v1.4); each bucket maps a normalized GET request key to an
// immutable response snapshot. Two drivers share one entry codec: a bbolt
// database where every cache bucket is a bolt bucket, and the original
// StoragePath/<site>/<bucket>/<hash> disk layout with temp file + rename
// writes. Deleting a bucket is a single logical unit in both drivers.
package cache
