package handler

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/errors"
	mw "github.com/elkarte/forum/shared/middleware"
	"github.com/gorilla/mux"
)

// parseIDParam parses a positive id from a route variable or form value.
func parseIDParam(param string, paramName string) (int64, error) {
	val, err := strconv.ParseInt(param, 10, 64)
	if err != nil || val <= 0 {
		return 0, &errors.ErrorWithStatusCode{Message: fmt.Sprintf("invalid %s: must be a positive integer", paramName), StatusCode: http.StatusBadRequest}
	}
	return val, nil
}

// optionalIDParam is parseIDParam for values that may be left out.
func optionalIDParam(param string, paramName string) (int64, error) {
	if param == "" {
		return 0, nil
	}
	return parseIDParam(param, paramName)
}

func routeID(r *http.Request, name string) (int64, error) {
	return parseIDParam(mux.Vars(r)[name], name)
}

// requireUser returns the signed in user or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) *domain.User {
	user := mw.GetUserFromContext(r)
	if user.Guest() {
		http.Error(w, "Please sign-in", http.StatusUnauthorized)
		return nil
	}
	return user
}

// serveFile streams f with the headers a stored attachment needs. Images
// are shown inline, anything else is offered as a download.
func serveFile(w http.ResponseWriter, r *http.Request, f *os.File, name, mimeType, etag string) {
	var modTime time.Time
	if fi, err := f.Stat(); err == nil {
		modTime = fi.ModTime()
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	disposition := "attachment"
	if strings.HasPrefix(mimeType, "image/") {
		disposition = "inline"
	}

	h := w.Header()
	h.Set("Content-Type", mimeType)
	h.Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	if h.Get("Cache-Control") == "" {
		h.Set("Cache-Control", "private, max-age=31536000")
	}
	if etag != "" {
		h.Set("ETag", `"`+etag+`"`)
	}
	http.ServeContent(w, r, name, modTime, f)
}
