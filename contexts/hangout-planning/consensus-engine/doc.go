// Package consensusengine decides a hangout's plan from participant votes.
//
// Participants vote on candidate options of a poll. After every vote the
// engine evaluates the ballot against the hangout roster and, once the
// configured quorum is met, confirms the leading option exactly once: the
// poll is narrowed to the winner, a hangout.confirmed event is written to the
// outbox and a pending RSVP is created for every roster member.
package consensusengine
