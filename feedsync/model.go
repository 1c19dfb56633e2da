package feedsync

import (
	"time"

	"golang.org/x/exp/slices"
)

// `model.User`
type User struct {
	UserId    Id     `json:"user_id"`
	Name      string `json:"name,omitempty"`
	AvatarUrl string `json:"avatar_url,omitempty"`
	Bio       string `json:"bio,omitempty"`
}

func (self *User) Copy() *User {
	user := *self
	return &user
}

// `model.Post`
// `LikeUserIds` has set semantics. Payloads are normalized on merge so that
// a user id never appears twice regardless of what the wire carried.
type Post struct {
	PostId      Id        `json:"post_id"`
	AuthorId    Id        `json:"author_id"`
	Text        string    `json:"text"`
	ImageUrl    string    `json:"image_url,omitempty"`
	LikeUserIds []Id      `json:"like_user_ids"`
	CreatedAt   time.Time `json:"created_at"`
	// comments attached to the post in the local projection.
	// the collaborator feed endpoint may omit these; merges never drop
	// locally attached comments on a payload without them.
	Comments []*Comment `json:"comments,omitempty"`
}

func (self *Post) LikedBy(userId Id) bool {
	return slices.Contains(self.LikeUserIds, userId)
}

func (self *Post) LikeCount() int {
	return len(self.LikeUserIds)
}

func (self *Post) Copy() *Post {
	post := *self
	post.LikeUserIds = slices.Clone(self.LikeUserIds)
	// nil comments means "not carried in this payload", which merge treats
	// differently from an empty list. the copy keeps that distinction
	if self.Comments != nil {
		post.Comments = make([]*Comment, len(self.Comments))
		for i, comment := range self.Comments {
			post.Comments[i] = comment.Copy()
		}
	}
	return &post
}

// `model.Comment`
type Comment struct {
	CommentId Id        `json:"comment_id"`
	PostId    Id        `json:"post_id"`
	AuthorId  Id        `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (self *Comment) Copy() *Comment {
	comment := *self
	return &comment
}

func dedupeIds(ids []Id) []Id {
	out := make([]Id, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
