package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// RepetitionEvent is one line of repetitions.jsonl.
type RepetitionEvent struct {
	RunID      string             `json:"run_id"`
	Experiment string             `json:"experiment"`
	Attack     string             `json:"attack"`
	Repetition int                `json:"repetition"`
	Metrics    map[string]float64 `json:"metrics"`
	DurationMS int64              `json:"duration_ms"`
	Timestamp  int64              `json:"timestamp"`
}

// Tracker appends repetition events to a JSON lines file. A nil *Tracker
// discards events.
type Tracker struct {
	file    *os.File
	encoder *json.Encoder
	runID   string
}

// NewTracker creates (or truncates) filename and tags every event with a
// fresh run id.
func NewTracker(filename string) (*Tracker, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create tracker: %w", err)
	}

	return &Tracker{
		file:    file,
		encoder: json.NewEncoder(file),
		runID:   uuid.NewString(),
	}, nil
}

// RunID returns the id written with every event.
func (t *Tracker) RunID() string {
	if t == nil {
		return ""
	}
	return t.runID
}

// LogRepetition writes one event.
func (t *Tracker) LogRepetition(experiment, attack string, repetition int, metrics map[string]float64, d time.Duration) error {
	if t == nil {
		return nil
	}

	event := RepetitionEvent{
		RunID:      t.runID,
		Experiment: experiment,
		Attack:     attack,
		Repetition: repetition,
		Metrics:    metrics,
		DurationMS: d.Milliseconds(),
		Timestamp:  time.Now().Unix(),
	}

	return t.encoder.Encode(event)
}

func (t *Tracker) Close() error {
	if t != nil && t.file != nil {
		return t.file.Close()
	}
	return nil
}
