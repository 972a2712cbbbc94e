package service

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/elkarte/forum/shared/domain"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const previewLength = 255

var defaultMentionTemplates = map[string]string{
	domain.MentionMember:     "{msg_link}",
	domain.MentionLike:       "liked {msg_link}",
	domain.MentionRemoveLike: "unliked {msg_link}",
	domain.MentionQuoted:     "quoted you in {msg_link}",
	domain.MentionBuddy:      "added you as a buddy",
}

// MentionRenderer turns a mention row into the text shown to the member.
type MentionRenderer struct {
	templates map[string]string
	baseURL   string
	md        goldmark.Markdown
	strict    *bluemonday.Policy
	ugc       *bluemonday.Policy
}

func NewMentionRenderer(templates map[string]string, baseURL string) *MentionRenderer {
	merged := make(map[string]string, len(defaultMentionTemplates))
	for k, v := range defaultMentionTemplates {
		merged[k] = v
	}
	for k, v := range templates {
		merged[k] = v
	}

	ugc := bluemonday.UGCPolicy()
	ugc.RequireNoFollowOnLinks(true)

	return &MentionRenderer{
		templates: merged,
		baseURL:   strings.TrimRight(baseURL, "/"),
		md:        goldmark.New(goldmark.WithExtensions(extension.Strikethrough)),
		strict:    bluemonday.StrictPolicy(),
		ugc:       ugc,
	}
}

// Render fills the message and preview of m.
func (r *MentionRenderer) Render(m *domain.Mention) {
	subject := r.strict.Sanitize(m.Subject)
	link := fmt.Sprintf(`<a href="%s/messages/%d">%s</a>`, r.baseURL, m.TargetId, subject)

	tpl, ok := r.templates[m.Type]
	if !ok {
		tpl = "{msg_link}"
	}
	m.Message = strings.NewReplacer(
		"{msg_link}", link,
		"{subject}", subject,
		"{mentioner}", r.strict.Sanitize(m.FromName),
	).Replace(tpl)
	m.Preview = r.preview(m.Body)
}

func (r *MentionRenderer) preview(body string) string {
	if body == "" {
		return ""
	}
	if runes := []rune(body); len(runes) > previewLength {
		body = string(runes[:previewLength]) + "..."
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(body), &buf); err != nil {
		return r.strict.Sanitize(body)
	}
	return strings.TrimSpace(r.ugc.Sanitize(buf.String()))
}
