package attachmetrics

import (
	"context"
	"strings"
	"testing"

	"github.com/elkarte/forum/backend/internal/events"
	"github.com/elkarte/forum/shared/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func setup() (*Module, *events.Manager) {
	mod := New(prometheus.NewRegistry())
	m := events.New()
	m.RegisterModules(mod)
	return mod, m
}

func TestUploadCounters(t *testing.T) {
	mod, m := setup()

	m.Trigger(context.Background(), events.AttachmentUpload, events.Args{
		"temp_attachments": []*domain.TempAttachment{
			{Size: 100},
			{Size: 50},
			{Size: 10, Errors: []domain.AttachError{domain.NewAttachError("file_too_big")}},
		},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(mod.staged.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mod.staged.WithLabelValues("error")))
	assert.Equal(t, 150.0, testutil.ToFloat64(mod.stagedBytes))
}

func TestCreatedCounters(t *testing.T) {
	mod, m := setup()
	ctx := context.Background()

	m.Trigger(ctx, events.AttachmentCreated, events.Args{"attachment": &domain.Attachment{
		MimeType: "image/png", Size: 1000, Thumb: &domain.Attachment{Size: 100},
	}})
	m.Trigger(ctx, events.AttachmentCreated, events.Args{"attachment": &domain.Attachment{MimeType: "text/plain", Size: 5}})

	assert.Equal(t, 1.0, testutil.ToFloat64(mod.created.WithLabelValues("image")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mod.created.WithLabelValues("thumbnail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mod.created.WithLabelValues("file")))
	assert.Equal(t, 1105.0, testutil.ToFloat64(mod.createdBytes))
}

func TestMentionsView(t *testing.T) {
	mod, m := setup()
	mentions := []*domain.Mention{{Id: 1}, {Id: 2}}

	m.Trigger(context.Background(), events.MentionsView, events.Args{"mentions": &mentions})
	m.Trigger(context.Background(), events.MentionsView, events.Args{})

	expected := `
# HELP forum_mentions_listed Mentions returned per listing
# TYPE forum_mentions_listed histogram
forum_mentions_listed_bucket{le="0"} 0
forum_mentions_listed_bucket{le="1"} 0
forum_mentions_listed_bucket{le="5"} 1
forum_mentions_listed_bucket{le="10"} 1
forum_mentions_listed_bucket{le="25"} 1
forum_mentions_listed_bucket{le="50"} 1
forum_mentions_listed_bucket{le="100"} 1
forum_mentions_listed_bucket{le="+Inf"} 1
forum_mentions_listed_sum 2
forum_mentions_listed_count 1
`
	assert.NoError(t, testutil.CollectAndCompare(mod.mentionsSeen, strings.NewReader(expected)))
	assert.NotPanics(t, func() { mod.OnMentionsView(nil) })
}

func TestRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "metric names are unique per registry")
}
