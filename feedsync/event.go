package feedsync

import (
	"encoding/json"
	"fmt"
)

type FeedEventType string

const (
	FeedEventTypePostCreated    FeedEventType = "post_created"
	FeedEventTypePostUpdated    FeedEventType = "post_updated"
	FeedEventTypePostDeleted    FeedEventType = "post_deleted"
	FeedEventTypeLikeToggled    FeedEventType = "like_toggled"
	FeedEventTypeNewComment     FeedEventType = "new_comment"
	FeedEventTypeCommentDeleted FeedEventType = "comment_deleted"
	FeedEventTypeProfileUpdated FeedEventType = "profile_updated"
)

// every event type except `profile_updated` is broadcast to all connections.
// `profile_updated` is delivered only to the affected user.
func (self FeedEventType) IsTargeted() bool {
	return self == FeedEventTypeProfileUpdated
}

// `model.LikeState`
// the full post-toggle like membership, never a delta
type LikeState struct {
	PostId      Id   `json:"post_id"`
	LikeCount   int  `json:"like_count"`
	LikeUserIds []Id `json:"like_user_ids"`
	// the user whose toggle produced this state
	UserId Id   `json:"user_id"`
	Liked  bool `json:"liked"`
}

// FeedEvent is the wire envelope for all push events. Payloads are full
// post-mutation snapshots of the affected entity, never diffs.
type FeedEvent struct {
	Type FeedEventType `json:"type"`

	Post      *Post      `json:"post,omitempty"`
	PostId    *Id        `json:"post_id,omitempty"`
	Comment   *Comment   `json:"comment,omitempty"`
	CommentId *Id        `json:"comment_id,omitempty"`
	Like      *LikeState `json:"like,omitempty"`
	User      *User      `json:"user,omitempty"`
}

func NewPostCreatedEvent(post *Post) *FeedEvent {
	return &FeedEvent{
		Type: FeedEventTypePostCreated,
		Post: post,
	}
}

func NewPostUpdatedEvent(post *Post) *FeedEvent {
	return &FeedEvent{
		Type: FeedEventTypePostUpdated,
		Post: post,
	}
}

func NewPostDeletedEvent(postId Id) *FeedEvent {
	return &FeedEvent{
		Type:   FeedEventTypePostDeleted,
		PostId: &postId,
	}
}

func NewLikeToggledEvent(like *LikeState) *FeedEvent {
	return &FeedEvent{
		Type: FeedEventTypeLikeToggled,
		Like: like,
	}
}

func NewNewCommentEvent(postId Id, comment *Comment) *FeedEvent {
	return &FeedEvent{
		Type:    FeedEventTypeNewComment,
		PostId:  &postId,
		Comment: comment,
	}
}

func NewCommentDeletedEvent(postId Id, commentId Id) *FeedEvent {
	return &FeedEvent{
		Type:      FeedEventTypeCommentDeleted,
		PostId:    &postId,
		CommentId: &commentId,
	}
}

func NewProfileUpdatedEvent(user *User) *FeedEvent {
	return &FeedEvent{
		Type: FeedEventTypeProfileUpdated,
		User: user,
	}
}

// Validate checks that the payload required by the event type is present.
func (self *FeedEvent) Validate() error {
	switch self.Type {
	case FeedEventTypePostCreated, FeedEventTypePostUpdated:
		if self.Post == nil {
			return fmt.Errorf("%s event requires a post", self.Type)
		}
	case FeedEventTypePostDeleted:
		if self.PostId == nil {
			return fmt.Errorf("%s event requires a post id", self.Type)
		}
	case FeedEventTypeLikeToggled:
		if self.Like == nil {
			return fmt.Errorf("%s event requires a like state", self.Type)
		}
	case FeedEventTypeNewComment:
		if self.PostId == nil || self.Comment == nil {
			return fmt.Errorf("%s event requires a post id and a comment", self.Type)
		}
	case FeedEventTypeCommentDeleted:
		if self.PostId == nil || self.CommentId == nil {
			return fmt.Errorf("%s event requires a post id and a comment id", self.Type)
		}
	case FeedEventTypeProfileUpdated:
		if self.User == nil {
			return fmt.Errorf("%s event requires a user", self.Type)
		}
	default:
		return fmt.Errorf("unknown event type %s", self.Type)
	}
	return nil
}

func EncodeFeedEvent(event *FeedEvent) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(event)
}

func DecodeFeedEvent(frame []byte) (*FeedEvent, error) {
	event := &FeedEvent{}
	if err := json.Unmarshal(frame, event); err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}
