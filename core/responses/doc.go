// Package responses defines the typed response contract of the booking
// engine.
//
// Response kinds:
//
//   - Question (response.question): the engine needs one more piece of
//     information. ExpectedField names the slot being asked for;
//     Choices, when present, is an ordered list of candidate windows the
//     user may pick from by position.
//   - Confirmation (response.confirmation): a fully resolved mutation is
//     awaiting explicit approval. Summary describes the exact action
//     that would be committed.
//   - Success (response.success): a mutation was committed and the
//     calendar backend acknowledged it. EventID references the affected
//     event.
//   - Failure (response.failure): the utterance could not be carried
//     through. Reason is a stable machine-readable code; no Failure ever
//     implies a calendar write happened.
//   - Disambiguation (response.disambiguation): an event reference
//     matched zero or several events; Candidates lists them for the user
//     to pick from by position.
package responses
