// Package sampler runs rounds against a WebSocket endpoint.
//
// # Overview
//
// A Sampler plays one virtual user. Each call to RunRound resolves the
// round's templated fields, obtains a connection session, sends the round's
// message and waits for a reply that matches the response pattern (or the
// disconnect pattern, or a close). The outcome is returned as a
// types.SampleResult; timeouts and mismatches are result fields, never
// errors.
//
// # Connection reuse
//
// A round marked streaming leaves its connection open. The next round on the
// same sampler reuses it when the resolved URL is the same, re-initializing
// the session instead of dialing again. The compiled patterns belong to the
// session, so a reused connection keeps the patterns it was opened with; the
// round log says so when the new round asks for different ones.
//
// A round that is not streaming closes its connection when the wait ends,
// whether the previous rounds kept it open or not.
//
// # Extraction
//
// When a round matched and has extract rules, the matched message is read as
// JSON and the values become session variables visible to later rounds of
// the same sampler.
package sampler
