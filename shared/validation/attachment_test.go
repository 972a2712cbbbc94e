package validation

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/elkarte/forum/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartRequest(t *testing.T, files map[string]string, contentType string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="attachment"; filename="`+name+`"`)
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPendingUploads(t *testing.T) {
	req := multipartRequest(t, map[string]string{"notes.txt": "hello"}, "")
	require.NoError(t, ValidateAndParseMultipart(req, httptest.NewRecorder(), 1<<20))

	uploads, closeAll := PendingUploads(req.MultipartForm.File["attachment"])
	defer closeAll()

	require.Len(t, uploads, 1)
	u := uploads[0]
	assert.Equal(t, "notes.txt", u.Name)
	assert.Equal(t, int64(5), u.Size)
	assert.Equal(t, domain.UploadOK, u.Error)
	assert.True(t, strings.HasPrefix(u.Type, "text/plain"))

	data, err := io.ReadAll(u.Data)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestDetectMimeType(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		header   string
		expected string
	}{
		{"declared type wins", "a.bin", "image/png", "image/png"},
		{"generic type falls back to extension", "a.png", "application/octet-stream", "image/png"},
		{"unknown stays generic", "a.zzzz", "", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fh := &multipart.FileHeader{Filename: tt.filename, Header: textproto.MIMEHeader{}}
			if tt.header != "" {
				fh.Header.Set("Content-Type", tt.header)
			}
			assert.Equal(t, tt.expected, DetectMimeType(fh))
		})
	}
}

func TestValidateAndParseMultipart_TooLarge(t *testing.T) {
	req := multipartRequest(t, map[string]string{"big.txt": strings.Repeat("x", 4096)}, "text/plain")
	err := ValidateAndParseMultipart(req, httptest.NewRecorder(), 100)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}
