package errors

import (
	"errors"
	"net/http"

	shared "github.com/elkarte/forum/shared/errors"
)

var NotFound = errors.New("Not found")

var (
	ErrAttachmentNotFound = &shared.ErrorWithStatusCode{Message: "attachment_not_found", StatusCode: http.StatusNotFound}
	ErrNoAccess           = &shared.ErrorWithStatusCode{Message: "no_access", StatusCode: http.StatusForbidden}
	ErrNoUpload           = &shared.ErrorWithStatusCode{Message: "attach_no_upload", StatusCode: http.StatusBadRequest}
	ErrMemberNotFound     = &shared.ErrorWithStatusCode{Message: "member_not_found", StatusCode: http.StatusNotFound}
	ErrMessageNotFound    = &shared.ErrorWithStatusCode{Message: "message_not_found", StatusCode: http.StatusNotFound}
	ErrPostMismatch       = &shared.ErrorWithStatusCode{Message: "temp_attachments_other_post", StatusCode: http.StatusConflict}
)

// Is reports whether err is of type T.
func Is[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
