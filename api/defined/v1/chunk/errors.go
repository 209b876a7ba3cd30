package chunk

import (
	"errors"
	"fmt"
)

var (
	// ErrLoadAborted is returned when a shutdown cancelled an in-flight load.
	ErrLoadAborted = errors.New("chunk: load aborted")
	// ErrStopped is returned by operations on a stopped controller.
	ErrStopped = errors.New("chunk: controller stopped")
)

// PageFetchError reports a page (or key batch) that could not be fetched
// after all retries.
type PageFetchError struct {
	Offset   int
	Count    int
	Keys     []string
	Attempts int
	Err      error
}

func (e *PageFetchError) Error() string {
	if len(e.Keys) > 0 {
		return fmt.Sprintf("chunk: fetch %d keys failed after %d attempts: %v", len(e.Keys), e.Attempts, e.Err)
	}
	return fmt.Sprintf("chunk: fetch page offset=%d count=%d failed after %d attempts: %v", e.Offset, e.Count, e.Attempts, e.Err)
}

func (e *PageFetchError) Unwrap() error {
	return e.Err
}

// MalformedNotificationError describes a push notification that was dropped.
type MalformedNotificationError struct {
	Reason  string
	Payload []byte
	Err     error
}

func (e *MalformedNotificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chunk: malformed notification: %s: %v", e.Reason, e.Err)
	}
	return "chunk: malformed notification: " + e.Reason
}

func (e *MalformedNotificationError) Unwrap() error {
	return e.Err
}
