package domain

type (
	UserId   = int64
	GroupId  = int64
	BoardId  = int64
	TopicId  = int64
	MsgId    = int64
	AttachId = int64
	FolderId = int
)

// User is the authenticated viewer of a request.
type User struct {
	Id     UserId
	Groups []GroupId
	Admin  bool
}

// MessageRef locates a message and names its author.
type MessageRef struct {
	Id     MsgId
	Topic  TopicId
	Board  BoardId
	Poster UserId
}

// Guest reports whether the viewer is not logged in.
func (u *User) Guest() bool {
	return u == nil || u.Id == 0
}
