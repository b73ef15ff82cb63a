package entities

import "time"

// Participant is a roster member of a hangout. The roster is owned elsewhere
// and read here as a snapshot.
type Participant struct {
	HangoutID   string
	UserID      string
	IsMandatory bool
}

type RSVPStatus string

const (
	RSVPStatusPending  RSVPStatus = "pending"
	RSVPStatusGoing    RSVPStatus = "going"
	RSVPStatusMaybe    RSVPStatus = "maybe"
	RSVPStatusDeclined RSVPStatus = "declined"
)

type RSVP struct {
	RSVPID    string
	HangoutID string
	UserID    string
	Status    RSVPStatus
	CreatedAt time.Time
}
