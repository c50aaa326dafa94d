// Package job defines the unit of work tracked through the translation pipeline.
package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a job. Transitions are monotonic:
// Waiting -> Active -> Completed|Failed, no state is ever revisited.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Queue names for the two pipeline stages.
const (
	QueueRecognition = "recognition"
	QueueTranslation = "translation"
)

// TranslationSuffix is appended to a recognition job id to derive the id of
// its downstream translation job.
const TranslationSuffix = "_translation"

// Job is a single unit of work. Job records are owned by the shared store and
// survive restarts of any individual worker or server process.
type Job struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	FileName      string          `json:"fileName"`
	State         State           `json:"state"`
	Progress      int             `json:"progress"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Result        []byte          `json:"result,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	UseCache      bool            `json:"useCache"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// RecognitionPayload is the input of a recognition job.
type RecognitionPayload struct {
	Image    []byte `json:"image"`
	FileName string `json:"fileName"`
}

// TranslationPayload is the input of a translation job, produced by the
// recognition stage.
type TranslationPayload struct {
	Text     string `json:"text"`
	FileName string `json:"fileName"`
}

// TranslationID derives the id of the translation job correlated with the
// given recognition job id. The derivation is deterministic so listeners can
// be registered before the translation job exists.
func TranslationID(recognitionID string) string {
	return recognitionID + TranslationSuffix
}

// NewRecognition creates a Waiting recognition job for the given image.
func NewRecognition(image []byte, fileName string, useCache bool) (*Job, error) {
	payload, err := json.Marshal(RecognitionPayload{Image: image, FileName: fileName})
	if err != nil {
		return nil, fmt.Errorf("marshal recognition payload: %w", err)
	}

	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Queue:     QueueRecognition,
		FileName:  fileName,
		State:     StateWaiting,
		Payload:   payload,
		UseCache:  useCache,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewTranslation creates a Waiting translation job correlated with the given
// recognition job.
func NewTranslation(recognitionID, text, fileName string, useCache bool) (*Job, error) {
	payload, err := json.Marshal(TranslationPayload{Text: text, FileName: fileName})
	if err != nil {
		return nil, fmt.Errorf("marshal translation payload: %w", err)
	}

	now := time.Now().UTC()
	return &Job{
		ID:        TranslationID(recognitionID),
		Queue:     QueueTranslation,
		FileName:  fileName,
		State:     StateWaiting,
		Payload:   payload,
		UseCache:  useCache,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Terminal reports whether the job has reached a terminal state.
func (j *Job) Terminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// RecognitionPayload decodes the job payload as a recognition input.
func (j *Job) RecognitionPayload() (RecognitionPayload, error) {
	var p RecognitionPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("decode recognition payload: %w", err)
	}
	return p, nil
}

// TranslationPayload decodes the job payload as a translation input.
func (j *Job) TranslationPayload() (TranslationPayload, error) {
	var p TranslationPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("decode translation payload: %w", err)
	}
	return p, nil
}
