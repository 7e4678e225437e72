package models

import "time"

type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ProgressRow is a stored progress record as read back from the store.
// Progress holds the raw, not yet normalized value.
type ProgressRow struct {
	UserID    string
	Progress  any
	UpdatedAt time.Time
}

type Summary struct {
	MasteredVocab   int `json:"mastered_vocab"`
	FavoriteVocab   int `json:"favorite_vocab"`
	MasteredGrammar int `json:"mastered_grammar"`
}
