package archiver

import "errors"

// Failure kinds surfaced by the scheduler. ErrInvalidURL, ErrThreadNotFound
// and ErrThreadTracked reach callers that add threads; the others are logged.
var (
	ErrInvalidURL     = errors.New("invalid thread url")
	ErrThreadNotFound = errors.New("thread not found")
	ErrThreadGone     = errors.New("thread 404'd")
	ErrThreadArchived = errors.New("thread archived")
	ErrDownloadFailed = errors.New("download failed")
	ErrPersistence    = errors.New("persist thread")
	ErrThreadTracked  = errors.New("thread already tracked")
	ErrQueueClosed    = errors.New("queue closed")
)
