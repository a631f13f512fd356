package domain

import "time"

// NoFaceLabel is reported instead of an emotion when the frame holds no face.
const NoFaceLabel = "no_face_detected"

const (
	EventTypeEmotion = "emotion"
	EventTypeGeneric = "event"
)

type Session struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	StartAt       time.Time      `json:"startAt"`
	EndAt         *time.Time     `json:"endAt"`
	EmotionCounts map[string]int `json:"emotionCounts"`
	Events        []Event        `json:"events"`
}

type Event struct {
	Type    string    `json:"type"`
	Emotion string    `json:"emotion,omitempty"`
	Detail  any       `json:"detail,omitempty"`
	At      time.Time `json:"ts"`
}

// EmotionSample is one sampled classification posted by a client.
type EmotionSample struct {
	Emotion string
	At      time.Time
}

// SessionStats are derived from the emotion samples of a session.
type SessionStats struct {
	TotalSec      float64 `json:"totalSec"`
	EngagedSec    float64 `json:"engagedSec"`
	FocusSec      float64 `json:"focusSec"`
	StableEmotion string  `json:"stableEmotion"`
}

type SessionSummary struct {
	Session
	Stats SessionStats `json:"stats"`
}
