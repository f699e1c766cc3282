package gdrive

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// ErrExportTooLarge is returned when a download or export would exceed the
// configured maximum buffer size. Surfaced distinctly from generic I/O
// errors so callers can message the size limit specifically.
var ErrExportTooLarge = errors.New("gdrive: content exceeds maximum buffer size")

// InvalidRecordError reports a record returned by the remote API that is
// missing a required field. Fatal for the single record only.
type InvalidRecordError struct {
	FileID string
	Field  string
}

func (e *InvalidRecordError) Error() string {
	if e.FileID == "" {
		return fmt.Sprintf("gdrive: record missing required field %q", e.Field)
	}
	return fmt.Sprintf("gdrive: record %s missing required field %q", e.FileID, e.Field)
}

// IsNotFound reports whether err is a remote 404. Used to treat stale
// references (unwatch of an expired channel, lookup of a vanished file) as
// already-consistent rather than as failures.
func IsNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}

// IsSubscriptionRateLimit reports whether err is the Drive push-notification
// subscription quota error. This is an expected soft failure: callers skip
// the file and retry on a later cycle.
func IsSubscriptionRateLimit(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, item := range apiErr.Errors {
		switch strings.ToLower(strings.TrimSpace(item.Reason)) {
		case "subscriptionratelimitexceeded", "channelquotaexceeded":
			return true
		}
	}
	return false
}
