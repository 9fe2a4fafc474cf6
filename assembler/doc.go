// Package assembler implements the context assembly pipeline: it fans out a
// context request to every registered memory source concurrently, scores the
// returned items with a multiplicative relevance heuristic, merges and ranks
// them deterministically, and greedily trims the ranked list to a serialized
// byte budget (compressing items that would otherwise overflow).
//
// Assembly is best-effort by contract: individual source failures are logged
// and skipped, and an internal fault degrades to an empty-but-valid context
// instead of failing the caller's generation step. Results are cached under a
// request fingerprint for a short TTL, making assembly idempotent for stable
// inputs.
package assembler
