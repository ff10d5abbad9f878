package domain

import "time"

// Participant is one joined identity inside a room. The store owns the
// row; each client mirrors it locally. Muted is the globally visible
// broadcast flag and is only ever mutated by the row's own UserID.
type Participant struct {
	ID       string    `json:"id" redis:"id"`
	UserID   UserID    `json:"user_id" redis:"user_id"`
	Username string    `json:"username" redis:"username"`
	Slug     RoomSlug  `json:"slug" redis:"slug"`
	Muted    bool      `json:"muted" redis:"muted"`
	JoinedAt time.Time `json:"joined_at" redis:"joined_at"`
	LastSeen time.Time `json:"last_seen" redis:"last_seen"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(userID UserID, username string, slug RoomSlug) (*Participant, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	return &Participant{UserID: userID, Username: username, Slug: slug}, nil
}
