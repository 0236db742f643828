package storage

import (
	"fmt"
	"strconv"

	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
)

// EventIDConflictError reports an append that reused eventID.
func EventIDConflictError(eventID string) error {
	return apperrors.WithMetadata(apperrors.CodeEventIDConflict,
		fmt.Sprintf("event id %s already exists", eventID),
		map[string]string{"EventID": eventID})
}

// StreamVersionConflictError reports an append whose expected version no
// longer matches the stream.
func StreamVersionConflictError(streamID string, expected, actual uint64) error {
	return apperrors.WithMetadata(apperrors.CodeStreamVersionConflict,
		fmt.Sprintf("stream %s is at version %d, expected %d", streamID, actual, expected),
		map[string]string{
			"StreamID": streamID,
			"Expected": strconv.FormatUint(expected, 10),
			"Actual":   strconv.FormatUint(actual, 10),
		})
}

// EventAlreadyRecordedError reports a second append of a once-per-stream type.
func EventAlreadyRecordedError(streamID string, eventType event.Type) error {
	return apperrors.WithMetadata(apperrors.CodeEventAlreadyRecorded,
		fmt.Sprintf("%s already recorded for %s", eventType, streamID),
		map[string]string{"StreamID": streamID, "EventType": string(eventType)})
}

// NotFoundError reports a missing record named by resource.
func NotFoundError(resource string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("%s not found", resource),
		map[string]string{"Resource": resource})
}
