package catalog

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrBadCursor marks a cursor string the service cannot decode.
var ErrBadCursor = errors.New("malformed page cursor")

// PageCursor is the resumable position of a standard-scoped scan: the
// ordering value and id of the last entry returned. The id breaks ties
// between entries sharing an upload timestamp so a resumed scan neither
// skips nor repeats rows.
type PageCursor struct {
	UploadedAt time.Time `json:"uploadedAt"`
	ID         string    `json:"id"`
}

// CursorFor returns the cursor positioned at the given entry.
func CursorFor(uploadedAt time.Time, id string) PageCursor {
	return PageCursor{UploadedAt: uploadedAt, ID: id}
}

// Encode serializes the cursor to an opaque URL-safe string.
func (c PageCursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a cursor previously produced by Encode.
func DecodeCursor(s string) (PageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return PageCursor{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	var c PageCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return PageCursor{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	if c.ID == "" || c.UploadedAt.IsZero() {
		return PageCursor{}, ErrBadCursor
	}
	return c, nil
}

// Before reports whether an entry at (uploadedAt, id) sorts strictly
// after the cursor position in the scan order (uploadedAt desc, id desc),
// i.e. whether a resumed scan should include it.
func (c PageCursor) Before(uploadedAt time.Time, id string) bool {
	if uploadedAt.Before(c.UploadedAt) {
		return true
	}
	return uploadedAt.Equal(c.UploadedAt) && id < c.ID
}
