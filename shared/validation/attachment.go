package validation

import (
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"

	"github.com/elkarte/forum/shared/domain"
)

// PendingUploads turns multipart file headers into upload entries. A file
// that cannot be opened is reported as a partial upload rather than failing
// the whole request. The returned closer releases every opened file.
func PendingUploads(fileHeaders []*multipart.FileHeader) ([]*domain.PendingUpload, func()) {
	var (
		uploads []*domain.PendingUpload
		opened  []io.Closer
	)

	for _, fh := range fileHeaders {
		u := &domain.PendingUpload{
			Name: fh.Filename,
			Size: fh.Size,
			Type: DetectMimeType(fh),
		}

		file, err := fh.Open()
		if err != nil {
			u.Error = domain.UploadErrPartial
		} else {
			u.Data = file
			opened = append(opened, file)
		}
		uploads = append(uploads, u)
	}

	return uploads, func() {
		for _, c := range opened {
			c.Close()
		}
	}
}

// DetectMimeType returns the declared content type, falling back to the
// file extension when the client sent nothing useful.
func DetectMimeType(fileHeader *multipart.FileHeader) string {
	mimeType := fileHeader.Header.Get("Content-Type")

	if mimeType == "" || mimeType == "application/octet-stream" {
		if detected := mime.TypeByExtension(filepath.Ext(fileHeader.Filename)); detected != "" {
			mimeType = detected
		}
	}

	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
