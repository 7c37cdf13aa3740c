package models

// OutcomeCounts aggregates dispatch outcomes over a window.
type OutcomeCounts struct {
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	DeadLetter int `json:"deadLetter"`
}
