package domain

import (
	"io"
	"strings"
	"time"
)

type AttachmentType int

const (
	AttachmentNormal    AttachmentType = 0
	AttachmentAvatar    AttachmentType = 1
	AttachmentThumbnail AttachmentType = 3
)

// Attachment is a stored attachment row. Thumbnails are attachments of
// type AttachmentThumbnail referenced by the original's ThumbId.
type Attachment struct {
	Id        AttachId       `json:"id"`
	FolderId  FolderId       `json:"id_folder"`
	MessageId MsgId          `json:"id_msg"`
	MemberId  UserId         `json:"id_member"`
	Filename  string         `json:"filename"`
	FileHash  string         `json:"file_hash"`
	FileExt   string         `json:"fileext"`
	Size      int64          `json:"size"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	MimeType  string         `json:"mime_type"`
	Approved  bool           `json:"approved"`
	ThumbId   AttachId       `json:"id_thumb"`
	Type      AttachmentType `json:"attachment_type"`
	Downloads int            `json:"downloads"`

	// Populated by lookups joining messages.
	PosterId UserId  `json:"-"`
	TopicId  TopicId `json:"-"`
	BoardId  BoardId `json:"-"`

	// Populated when the lookup joins the thumbnail row.
	Thumb *Attachment `json:"thumb,omitempty"`
}

// IsImage reports whether the stored row describes an image with dimensions.
func (a *Attachment) IsImage() bool {
	return a.Width > 0 && a.Height > 0
}

// AttachError is a user facing attachment error: a language key plus
// its substitution arguments.
type AttachError struct {
	Code string   `json:"code"`
	Args []string `json:"args,omitempty"`
}

func NewAttachError(code string, args ...string) AttachError {
	return AttachError{Code: code, Args: args}
}

func (e AttachError) Error() string {
	if len(e.Args) == 0 {
		return e.Code
	}
	return e.Code + ": " + strings.Join(e.Args, ", ")
}

// TempAttachment is an uploaded file staged under a temporary name until
// the post it belongs to is saved.
type TempAttachment struct {
	AttachId  string        `json:"attachid"`
	PublicId  string        `json:"public_attachid"`
	Name      string        `json:"name"`
	TmpPath   string        `json:"tmp_name"`
	Size      int64         `json:"size"`
	Type      string        `json:"type"`
	FolderId  FolderId      `json:"id_folder"`
	Errors    []AttachError `json:"errors,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func (t *TempAttachment) HasErrors() bool {
	return len(t.Errors) > 0
}

// PostContext identifies the post temp attachments are uploaded for.
type PostContext struct {
	Msg          MsgId   `json:"msg"`
	LastMsg      MsgId   `json:"last_msg"`
	Topic        TopicId `json:"topic"`
	Board        BoardId `json:"board"`
	InitialError string  `json:"initial_error,omitempty"`
}

// SamePost reports whether two contexts point at the same post.
func (p PostContext) SamePost(o PostContext) bool {
	return p.Msg == o.Msg && p.Topic == o.Topic && p.Board == o.Board
}

// UploadErrorCode mirrors the per file status a multipart parser reports.
type UploadErrorCode int

const (
	UploadOK           UploadErrorCode = 0
	UploadErrIniSize   UploadErrorCode = 1
	UploadErrFormSize  UploadErrorCode = 2
	UploadErrPartial   UploadErrorCode = 3
	UploadErrNoFile    UploadErrorCode = 4
	UploadErrNoTmpDir  UploadErrorCode = 6
	UploadErrCantWrite UploadErrorCode = 7
	UploadErrExtension UploadErrorCode = 8
)

// PendingUpload is one file entry of an upload request.
type PendingUpload struct {
	Name  string
	Size  int64
	Type  string
	Error UploadErrorCode
	Data  io.Reader
}
