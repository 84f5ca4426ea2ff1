package assistant

import (
	"errors"
	"fmt"

	"github.com/ent0n29/secondbrain/internal/conversation"
)

var (
	ErrNoActiveConversation = conversation.ErrNothingToExtract
	ErrExtractionInProgress = conversation.ErrExtractionInProgress
	ErrEmptyMessage         = errors.New("message text is empty")
	ErrEmptyNote            = errors.New("note text is empty")
	ErrEmptyQuery           = errors.New("search query is empty")
)

// Stage names a step of the extraction pipeline.
type Stage string

const (
	StageExtracting Stage = "extracting"
	StageEmbedding  Stage = "embedding"
	StagePersisting Stage = "persisting"
	StageLinking    Stage = "linking"
	StageFinalizing Stage = "finalizing"
)

// ExtractionError reports where an extraction run stopped and how many
// thoughts had already been stored. The conversation stays active either way.
type ExtractionError struct {
	Stage Stage
	Saved int
	Err   error
}

func (e *ExtractionError) Error() string {
	if e.Saved == 0 {
		return fmt.Sprintf("extraction failed while %s before saving any thought: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("extraction partially succeeded, %d thoughts saved, then failed while %s: %v", e.Saved, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Partial reports whether some thoughts were stored before the failure.
func (e *ExtractionError) Partial() bool {
	return e.Saved > 0
}
