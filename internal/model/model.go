package model

import "time"

// WordItem is one practice entry: the target character or word plus the
// similar-looking characters offered as wrong choices.
type WordItem struct {
	Word        string   `json:"word"`
	Pinyin      string   `json:"pinyin"`
	Phrase      string   `json:"phrase"`
	Description string   `json:"description"`
	Distractors []string `json:"distractors"`
}

// WordBank holds the active item list for one grade together with the
// per-distractor hint phrases spoken after a wrong pick.
type WordBank struct {
	Grade           int               `json:"grade"`
	Items           []WordItem        `json:"items"`
	DistractorHints map[string]string `json:"distractor_hints"`
	Source          string            `json:"source"`
	GeneratedAt     time.Time         `json:"generated_at,omitempty"`
}

const (
	BankSourceBundled   = "bundled"
	BankSourceGenerated = "generated"
)

const (
	ScreenStart    = "start"
	ScreenPlaying  = "playing"
	ScreenFeedback = "feedback"
)

type GameSession struct {
	ID        string    `json:"id"`
	Grade     int       `json:"grade"`
	Screen    string    `json:"screen"`
	Level     int       `json:"level"`
	Options   []string  `json:"options"`
	Tried     []string  `json:"tried"`
	Stars     int       `json:"stars"`
	ImageWord string    `json:"image_word,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ImageBlob is one cached illustration, keyed by the word it depicts.
type ImageBlob struct {
	Word      string    `json:"word"`
	MIME      string    `json:"mime"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// SyncStatus reports the background image prefetch progress after a bank
// regeneration. Processed counts both successes and logged failures.
type SyncStatus struct {
	Running   bool `json:"running"`
	Processed int  `json:"processed"`
	Total     int  `json:"total"`
}
