// Package registry caches decoded sounds by name. Reads are lock-free
// loads of an immutable snapshot; writers decode outside any lock and
// publish a new snapshot, so a visible name always maps to a complete
// asset.
package registry
