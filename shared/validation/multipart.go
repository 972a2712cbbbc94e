package validation

import (
	"fmt"
	"net/http"
)

// ValidateAndParseMultipart caps the request body at maxSize and parses the
// multipart form. When the cap is hit the server stops reading and the
// client sees a reset connection.
func ValidateAndParseMultipart(r *http.Request, w http.ResponseWriter, maxSize int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	// files above 32 MiB spill to disk
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return fmt.Errorf("%w: failed to parse multipart form", ErrPayloadTooLarge)
	}

	return nil
}
