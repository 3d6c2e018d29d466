// Package merge reconciles two versions of a portable profile.
//
// SmartMerge runs one merger per entity collection in a fixed order
// (identity, memories, conversations, insights, preferences, projects,
// grants). Each merger indexes the local collection by id, adds remote-only
// items, and runs an entity specific reconcile step on items present on both
// sides. Reconcile either produces an auto-merged entity or reports the
// conflicting field names, in which case the local version stays in the
// merged profile and a Conflict carries both versions for the user.
//
// Field comparison follows one rule everywhere:
//
//	with base:    local == remote -> keep
//	              local == base   -> take remote
//	              remote == base  -> keep local
//	              otherwise       -> conflict
//	without base: local == remote -> keep
//	              one side empty  -> take the other
//	              otherwise       -> conflict
//
// Strings are compared in Unicode NFC so that composed and decomposed forms
// of the same text never conflict.
//
// Conversations never conflict. Divergent message logs are appended as
// contiguous blocks (local block first, then remote) instead of being
// interleaved by timestamp, since device clocks cannot be trusted for a global
// order. This keeps every message at the cost of a single linear narrative.
//
// Nothing in this package performs I/O or reads the wall clock: the merge
// time comes from Options.Now, so a merge is replayable for a given input
// triple.
package merge
