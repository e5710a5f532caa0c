// Package engine implements the follow-up scheduling and response-detection
// engine.
//
// A single FollowUpEngine owns a ticker-driven scanner goroutine. On each
// tick it enumerates active follow-up campaigns and their eligible prospects,
// and for each prospect runs three stages in order:
//
//	Response Detector -> Timing Decision -> Dispatch Coordinator
//
// The detector stops the sequence the moment a genuine human reply exists,
// while letting out-of-office auto-replies pass. The timing decision is a
// pure function over prospect, campaign schedule, and the campaign-local
// clock. The dispatcher reuses the provider that sent the prospect's first
// email, renders the follow-up template, sends, and advances the prospect's
// counter with a compare-and-swap so a crashed or duplicated tick cannot
// double-send.
//
// The engine depends only on the Repository and Sender interfaces defined
// here; repository implementations live in repository/postgres.
package engine
