package chat

import "time"

// Conversation describes a transcript owned by one signed-in user.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	Turns     []Turn    `json:"turns"`
	Busy      bool      `json:"busy"`
}
