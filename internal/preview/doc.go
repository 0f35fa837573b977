// Package preview defines core types shared across subsystems: the metadata
// record extracted from remote pages, cached artifacts, and the capability
// interfaces (fetching, storage, hashing, time, events) the resolver is
// wired with.
package preview
