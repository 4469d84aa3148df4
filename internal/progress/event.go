package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/board-archiver/internal/archiver"
)

// Kind names a status event. The string values are the wire names observers
// see.
type Kind string

// Status events emitted by the scheduler.
const (
	KindNewThread           Kind = "new_thread"
	KindImageDownloaded     Kind = "image_dl"
	KindThumbDownloaded     Kind = "thumb_dl"
	KindThreadStartDownload Kind = "thread_start_download"
	KindThreadDownloaded    Kind = "thread_dl"
	KindArchived            Kind = "archived"
	Kind404                 Kind = "404"
)

// Kinds lists every event kind in emission order of a thread's life.
var Kinds = []Kind{
	KindNewThread,
	KindThreadStartDownload,
	KindImageDownloaded,
	KindThumbDownloaded,
	KindThreadDownloaded,
	KindArchived,
	Kind404,
}

// Event is one status notification about a thread.
type Event struct {
	// RunID identifies the archiver process run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS   time.Time
	Kind Kind
	// Thread is a copy of the thread state at emission time.
	Thread archiver.ThreadInfo
	// Filename is set for image_dl and thumb_dl.
	Filename string
	// NextDownload is set on thread_dl when the thread was rescheduled.
	NextDownload *time.Time
	// Replies is the new reply count of the poll, when known.
	Replies int
	Note    string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Thread.ThreadID <= 0 || e.Thread.Board == "" {
		return errors.New("thread board and id are required")
	}
	switch e.Kind {
	case KindNewThread, KindThreadStartDownload, KindThreadDownloaded, KindArchived, Kind404:
	case KindImageDownloaded, KindThumbDownloaded:
		if e.Filename == "" {
			return fmt.Errorf("%s requires filename", e.Kind)
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.NextDownload != nil && e.Kind != KindThreadDownloaded {
		return errors.New("next download only applies to thread_dl")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
