package models

import "github.com/google/uuid"

// Token identifies a card face, e.g. an image asset reference.
type Token string

// Card is one physical instance in a deck. Two cards share each Token;
// ID is unique per instance and is never reused across games.
type Card struct {
	ID      uuid.UUID `json:"id"`
	Token   Token     `json:"token"`
	Matched bool      `json:"matched"`
}
