package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/elkarte/forum/backend/internal/events"
	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{40, 90, 160, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(name, mime string, data []byte) *domain.PendingUpload {
	return &domain.PendingUpload{Name: name, Size: int64(len(data)), Type: mime, Data: bytes.NewReader(data)}
}

func attachCodes(res *UploadResult) []string {
	var codes []string
	for _, a := range res.Errors.Attachments() {
		for _, e := range a.Errors {
			codes = append(codes, e.Code)
		}
	}
	return codes
}

var poster = &domain.User{Id: 7}

func TestProcessAttachments_Stages(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	post := domain.PostContext{Topic: 3, Board: 2}

	res, err := f.svc.ProcessAttachments(ctx, poster, post, []*domain.PendingUpload{
		upload("photo.png", "image/png", pngBytes(t, 20, 20)),
		upload("notes.txt", "text/plain", []byte("hello")),
	})
	require.NoError(t, err)

	assert.False(t, res.Errors.HasErrors())
	require.Len(t, res.Attachments, 2)
	for _, a := range res.Attachments {
		assert.True(t, strings.HasPrefix(a.AttachId, "post_tmp_7_"))
		assert.True(t, strings.HasPrefix(a.PublicId, "post_tmp_7_"))
		assert.NotEqual(t, a.AttachId, a.PublicId)
		assert.Equal(t, filepath.Join(f.dir, a.AttachId), a.TmpPath)
		assert.FileExists(t, a.TmpPath)
	}
	assert.Equal(t, int64(5), res.Attachments[1].Size)

	stored, _ := f.temp.All(ctx, poster.Id)
	assert.Len(t, stored, 2)
	saved, _ := f.temp.PostContext(ctx, poster.Id)
	require.NotNil(t, saved)
	assert.True(t, saved.SamePost(post))

	require.Equal(t, []string{events.AttachmentUpload}, f.hooks.positions())
	assert.Equal(t, res.Attachments, f.hooks.calls[0].args["temp_attachments"])
}

func TestProcessAttachments_FileTooBig(t *testing.T) {
	t.Run("size over limit", func(t *testing.T) {
		f := newFixture(t, nil)
		big := bytes.Repeat([]byte("a"), 130*1024)

		res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{}, []*domain.PendingUpload{
			upload("big.txt", "text/plain", big),
		})
		require.NoError(t, err)

		errs := res.Errors.Attachments()
		require.Len(t, errs, 1)
		assert.Equal(t, "big.txt", errs[0].Name)
		assert.Equal(t, []domain.AttachError{domain.NewAttachError("file_too_big", "128")}, errs[0].Errors)
		assert.Empty(t, res.Attachments)

		// not critical: the record stays so the poster sees why
		stored, _ := f.temp.All(context.Background(), poster.Id)
		require.Len(t, stored, 1)
		assert.True(t, stored[0].HasErrors())
	})

	t.Run("parser reported size errors", func(t *testing.T) {
		for _, code := range []domain.UploadErrorCode{domain.UploadErrIniSize, domain.UploadErrFormSize} {
			f := newFixture(t, nil)
			up := &domain.PendingUpload{Name: "x.png", Error: code}

			res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{}, []*domain.PendingUpload{up})
			require.NoError(t, err)
			assert.Equal(t, []string{"file_too_big"}, attachCodes(res))
		}
	})

	t.Run("server side upload error is generic", func(t *testing.T) {
		f := newFixture(t, nil)
		up := &domain.PendingUpload{Name: "x.png", Error: domain.UploadErrNoTmpDir}

		res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{}, []*domain.PendingUpload{up})
		require.NoError(t, err)
		assert.Equal(t, []string{"attach_php_error"}, attachCodes(res))
	})
}

func TestProcessAttachments_ZeroByteIsCritical(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{}, []*domain.PendingUpload{
		upload("empty.txt", "text/plain", nil),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"attach_0_byte_file"}, attachCodes(res))
	stored, _ := f.temp.All(context.Background(), poster.Id)
	assert.Empty(t, stored, "critical errors drop the record")

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "critical errors drop the file")
}

func TestProcessAttachments_ImageContents(t *testing.T) {
	tainted := append(pngBytes(t, 10, 10), []byte("<?php system($_GET['c']); ?>")...)

	t.Run("rejected without re-encode", func(t *testing.T) {
		f := newFixture(t, nil)

		res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{}, []*domain.PendingUpload{
			upload("cat.png", "image/png", tainted),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"bad_attachment"}, attachCodes(res))

		stored, _ := f.temp.All(context.Background(), poster.Id)
		assert.Empty(t, stored)
	})

	t.Run("failed re-encode is rejected and removed", func(t *testing.T) {
		f := newFixture(t, func(cfg *config.Config) { cfg.Public.Attachments.ImageReencode = true })
		// signature and IHDR decode, the pixel data is gone
		truncated := append(append([]byte{}, pngBytes(t, 10, 10)[:40]...), []byte("<?php echo 1; ?>")...)

		res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{}, []*domain.PendingUpload{
			upload("cat.png", "image/png", truncated),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"bad_attachment"}, attachCodes(res))
		assert.Empty(t, res.Attachments)

		stored, _ := f.temp.All(context.Background(), poster.Id)
		assert.Empty(t, stored)
		entries, err := os.ReadDir(f.dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("re-encoded when enabled", func(t *testing.T) {
		f := newFixture(t, func(cfg *config.Config) { cfg.Public.Attachments.ImageReencode = true })

		res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{}, []*domain.PendingUpload{
			upload("cat.png", "image/png", tainted),
		})
		require.NoError(t, err)
		require.Len(t, res.Attachments, 1)

		data, err := os.ReadFile(res.Attachments[0].TmpPath)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "<?php")
		assert.Equal(t, int64(len(data)), res.Attachments[0].Size)
	})
}

func TestProcessAttachments_Limits(t *testing.T) {
	t.Run("extension not allowed", func(t *testing.T) {
		f := newFixture(t, nil)

		res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{}, []*domain.PendingUpload{
			upload("setup.exe", "application/octet-stream", []byte("MZ")),
		})
		require.NoError(t, err)

		errs := res.Errors.Attachments()
		require.Len(t, errs, 1)
		assert.Equal(t, domain.NewAttachError("cant_upload_type", "jpg, jpeg, png, gif, txt"), errs[0].Errors[0])
	})

	t.Run("too many files", func(t *testing.T) {
		f := newFixture(t, nil)
		var ups []*domain.PendingUpload
		for i := 0; i < 5; i++ {
			ups = append(ups, upload("n.txt", "text/plain", []byte("x")))
		}

		res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{}, ups)
		require.NoError(t, err)

		assert.Len(t, res.Attachments, 4)
		errs := res.Errors.Attachments()
		require.Len(t, errs, 1)
		assert.Equal(t, domain.NewAttachError("attachments_limit_per_post", "4"), errs[0].Errors[0])
	})

	t.Run("post total", func(t *testing.T) {
		f := newFixture(t, nil)
		chunk := bytes.Repeat([]byte("b"), 100*1024)

		res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{}, []*domain.PendingUpload{
			upload("one.txt", "text/plain", chunk),
			upload("two.txt", "text/plain", chunk),
		})
		require.NoError(t, err)

		assert.Len(t, res.Attachments, 1)
		errs := res.Errors.Attachments()
		require.Len(t, errs, 1)
		assert.Equal(t, domain.NewAttachError("attach_max_total_file_size", "192", "92"), errs[0].Errors[0])
	})

	t.Run("existing message attachments count", func(t *testing.T) {
		f := newFixture(t, nil)
		f.storage.sizeFunc = func(msg domain.MsgId) (int, int64, error) {
			assert.Equal(t, domain.MsgId(11), msg)
			return 4, 1024, nil
		}

		res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{Msg: 11}, []*domain.PendingUpload{
			upload("late.txt", "text/plain", []byte("x")),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"attachments_limit_per_post"}, attachCodes(res))
	})
}

func TestProcessAttachments_MissingDirectory(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.RemoveAll(f.dir))

	res, err := f.svc.ProcessAttachments(context.Background(), poster, domain.PostContext{Topic: 1}, []*domain.PendingUpload{
		upload("a.txt", "text/plain", []byte("x")),
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.AttachError{domain.NewAttachError("attach_no_upload")}, res.Errors.General())
	assert.Empty(t, res.Attachments)

	saved, _ := f.temp.PostContext(context.Background(), poster.Id)
	require.NotNil(t, saved)
	assert.Equal(t, "attach_folder_warning", saved.InitialError)

	require.Equal(t, []string{events.AttachmentUpload}, f.hooks.positions())
	args := f.hooks.calls[0].args
	assert.Same(t, res.Errors, args["errors"])
	post, ok := args["post"].(*domain.PostContext)
	require.True(t, ok)
	assert.Equal(t, "attach_folder_warning", post.InitialError)
}

func TestProcessAttachments_EarlierUploads(t *testing.T) {
	ctx := context.Background()
	postA := domain.PostContext{Topic: 1, Board: 1}
	postB := domain.PostContext{Topic: 2, Board: 1}

	stageOne := func(t *testing.T, f *fixture, post domain.PostContext) *domain.TempAttachment {
		res, err := f.svc.ProcessAttachments(ctx, poster, post, []*domain.PendingUpload{upload("a.txt", "text/plain", []byte("a"))})
		require.NoError(t, err)
		require.Len(t, res.Attachments, 1)
		return res.Attachments[0]
	}

	t.Run("kept when no new files arrive", func(t *testing.T) {
		f := newFixture(t, nil)
		first := stageOne(t, f, postA)

		res, err := f.svc.ProcessAttachments(ctx, poster, postB, nil)
		require.NoError(t, err)

		assert.True(t, res.IgnoreTemp)
		assert.FileExists(t, first.TmpPath)
		saved, _ := f.temp.PostContext(ctx, poster.Id)
		assert.True(t, saved.SamePost(postA), "the old post context is kept")
	})

	t.Run("flushed when files arrive for another post", func(t *testing.T) {
		f := newFixture(t, nil)
		first := stageOne(t, f, postA)

		res, err := f.svc.ProcessAttachments(ctx, poster, postB, []*domain.PendingUpload{upload("b.txt", "text/plain", []byte("b"))})
		require.NoError(t, err)

		assert.False(t, res.IgnoreTemp)
		assert.Equal(t, []domain.AttachError{domain.NewAttachError("temp_attachments_flushed")}, res.Errors.General())
		assert.NoFileExists(t, first.TmpPath)
		stored, _ := f.temp.All(ctx, poster.Id)
		require.Len(t, stored, 1)
		assert.Equal(t, "b.txt", stored[0].Name)
	})

	t.Run("appended for the same post", func(t *testing.T) {
		f := newFixture(t, nil)
		stageOne(t, f, postA)

		res, err := f.svc.ProcessAttachments(ctx, poster, postA, []*domain.PendingUpload{upload("b.txt", "text/plain", []byte("b"))})
		require.NoError(t, err)

		assert.False(t, res.Errors.HasErrors())
		stored, _ := f.temp.All(ctx, poster.Id)
		assert.Len(t, stored, 2)
	})

	t.Run("earlier files outlive the collector once extended", func(t *testing.T) {
		f := newFixture(t, nil)
		first := stageOne(t, f, postA)
		old := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(first.TmpPath, old, old))

		_, err := f.svc.ProcessAttachments(ctx, poster, postA, []*domain.PendingUpload{upload("b.txt", "text/plain", []byte("b"))})
		require.NoError(t, err)

		gc := NewTempGarbageCollector(f.dirs, time.Hour)
		require.NoError(t, gc.RunCleanup())
		assert.Equal(t, 0, gc.GetLastCleanupStats().FilesDeleted)
		assert.FileExists(t, first.TmpPath)
	})

	t.Run("files of an abandoned post are collected", func(t *testing.T) {
		f := newFixture(t, nil)
		first := stageOne(t, f, postA)
		old := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(first.TmpPath, old, old))

		gc := NewTempGarbageCollector(f.dirs, time.Hour)
		require.NoError(t, gc.RunCleanup())
		assert.Equal(t, 1, gc.GetLastCleanupStats().FilesDeleted)
		assert.NoFileExists(t, first.TmpPath)
	})
}

func TestErrorContextJSON(t *testing.T) {
	e := NewErrorContext()
	e.AddError(domain.NewAttachError("attach_no_upload"))
	e.AddAttach("post_tmp_1_a", "a.png")
	e.AddAttachError("post_tmp_1_a", domain.NewAttachError("file_too_big", "128"))
	e.AddAttach("post_tmp_1_b", "b.png")

	out, err := e.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"general": [{"code": "attach_no_upload"}],
		"attachments": [{"id": "post_tmp_1_a", "name": "a.png", "errors": [{"code": "file_too_big", "args": ["128"]}]}]
	}`, string(out))
}
