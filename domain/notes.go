package domain

import (
	"time"

	"github.com/google/uuid"
)

// Note is a post authored by the local actor.
type Note struct {
	Id        uuid.UUID
	CreatedBy string
	Message   string
	CreatedAt time.Time
}
