// Package attachmetrics counts attachment and mention activity by hooking
// into the event manager.
package attachmetrics

import (
	"strings"

	"github.com/elkarte/forum/backend/internal/events"
	"github.com/elkarte/forum/shared/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Name = "attachment_metrics"

type Module struct {
	staged       *prometheus.CounterVec
	stagedBytes  prometheus.Counter
	created      *prometheus.CounterVec
	createdBytes prometheus.Counter
	mentionsSeen prometheus.Histogram
}

func New(reg prometheus.Registerer) *Module {
	f := promauto.With(reg)
	return &Module{
		staged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "forum_attachments_staged_total",
			Help: "Uploaded files staged as temp attachments, by outcome",
		}, []string{"result"}),
		stagedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "forum_attachments_staged_bytes_total",
			Help: "Bytes of error free staged uploads",
		}),
		created: f.NewCounterVec(prometheus.CounterOpts{
			Name: "forum_attachments_created_total",
			Help: "Attachments stored permanently, by kind",
		}, []string{"kind"}),
		createdBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "forum_attachments_created_bytes_total",
			Help: "Bytes of stored attachments, thumbnails included",
		}),
		mentionsSeen: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "forum_mentions_listed",
			Help:    "Mentions returned per listing",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
	}
}

func (m *Module) Name() string { return Name }

func (m *Module) Hooks(*events.Manager) []events.Hook {
	return []events.Hook{
		{Position: events.AttachmentUpload, Event: events.Event{Class: Name, Method: "OnUpload", Deps: []string{"temp_attachments"}}},
		{Position: events.AttachmentCreated, Event: events.Event{Class: Name, Method: "OnCreated", Deps: []string{"attachment"}}},
		// runs after any hook that filters the list
		{Position: events.MentionsView, Event: events.Event{Class: Name, Method: "OnMentionsView", Deps: []string{"mentions"}}, Priority: 100},
	}
}

func (m *Module) OnUpload(temps []*domain.TempAttachment) {
	for _, t := range temps {
		if t.HasErrors() {
			m.staged.WithLabelValues("error").Inc()
			continue
		}
		m.staged.WithLabelValues("ok").Inc()
		m.stagedBytes.Add(float64(t.Size))
	}
}

func (m *Module) OnCreated(a *domain.Attachment) {
	if a == nil {
		return
	}
	kind := "file"
	if strings.HasPrefix(a.MimeType, "image/") {
		kind = "image"
	}
	m.created.WithLabelValues(kind).Inc()
	m.createdBytes.Add(float64(a.Size))
	if a.Thumb != nil {
		m.created.WithLabelValues("thumbnail").Inc()
		m.createdBytes.Add(float64(a.Thumb.Size))
	}
}

func (m *Module) OnMentionsView(mentions *[]*domain.Mention) {
	if mentions == nil {
		return
	}
	m.mentionsSeen.Observe(float64(len(*mentions)))
}
