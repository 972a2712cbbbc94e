package domain

import "time"

const (
	MentionMember     = "mentionmem"
	MentionLike       = "likemsg"
	MentionRemoveLike = "rlikemsg"
	MentionQuoted     = "quotedmem"
	MentionBuddy      = "buddy"
)

type Mention struct {
	Id           int64     `json:"id"`
	MemberId     UserId    `json:"id_member"`
	FromMemberId UserId    `json:"id_member_from"`
	FromName     string    `json:"mentioner"`
	TargetId     MsgId     `json:"id_target"`
	BoardId      BoardId   `json:"id_board"`
	Subject      string    `json:"subject"`
	Body         string    `json:"-"`
	Type         string    `json:"mention_type"`
	LogTime      time.Time `json:"log_time"`
	Status       int       `json:"status"`
	Accessible   bool      `json:"is_accessible"`

	// Rendered by the mention type.
	Message string `json:"message,omitempty"`
	Preview string `json:"preview,omitempty"`
}
