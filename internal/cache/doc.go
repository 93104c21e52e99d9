// Package cache implements the versioned, disk-backed cache storage used by the
// offline proxy. A Storage holds named caches (the name embeds the deploy
// version); each Cache maps a normalized request identity (method + path +
// query) to a stored response. Entries are written as a single
// StoragePath/<cache>/<METHOD>/<path>.entry file (JSON metadata line followed by
// the raw body) via temp file + rename, so a reader never observes a half
// written response. There is no TTL or size accounting: invalidation happens
// only by deleting a whole named cache.
package cache
