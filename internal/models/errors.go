package models

import "errors"

// Application-wide standard errors
var (
	// Resource/DB errors
	ErrStoryNotFound      = errors.New("story not found")
	ErrChapterNotFound    = errors.New("chapter not found")
	ErrTaskStatusNotFound = errors.New("task status not found")

	// Generation lifecycle errors
	ErrGenerationInProgress = errors.New("generation is already in progress for this story")
	ErrStoryNotContinuable  = errors.New("story cannot be continued")
	ErrChoiceNotSelectable  = errors.New("chapter does not accept a choice")
	ErrTaskFinished         = errors.New("task status is already terminal")

	// Dispatch errors
	ErrBrokerUnavailable = errors.New("task broker unavailable")

	// General request/server errors
	ErrInvalidInput   = errors.New("invalid input data")
	ErrInternalServer = errors.New("internal server error")
)
