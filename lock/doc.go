// Package lock serializes read-modify-write cycles against shared resources
// when no transactional storage is available. The file-based implementation
// coordinates independent processes through an atomically created marker file
// whose content is an opaque holder token; stale markers left behind by
// crashed holders are broken after a configurable age. In-memory and Redis
// implementations provide the same contract for embedded use and for
// deployments that already run Redis.
package lock
