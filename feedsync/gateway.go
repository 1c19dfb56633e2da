package feedsync

import (
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
)

// MutationGateway issues rest mutations with optimistic cache edits. Every
// mutation follows the same shape: snapshot the affected entity, apply the
// optimistic edit synchronously, issue the rest call, then either merge the
// authoritative response (which supersedes the optimistic guess) or restore
// the snapshot and surface the failure. Failures are not retried here.
type MutationGateway struct {
	api   *FeedApi
	cache *CacheStore

	userId Id

	stateLock sync.Mutex
	// per post serialization of like toggles. two optimistic flips racing
	// two network responses is a lost update, so toggles against the same
	// post from this client are queued, never concurrent
	likeLocks map[Id]*sync.Mutex
}

func NewMutationGateway(api *FeedApi, cache *CacheStore, userId Id) *MutationGateway {
	return &MutationGateway{
		api:       api,
		cache:     cache,
		userId:    userId,
		likeLocks: map[Id]*sync.Mutex{},
	}
}

func (self *MutationGateway) likeLock(postId Id) *sync.Mutex {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	lock, ok := self.likeLocks[postId]
	if !ok {
		lock = &sync.Mutex{}
		self.likeLocks[postId] = lock
	}
	return lock
}

// CreatePost inserts an optimistic placeholder at the feed head, then
// replaces it with the canonical post from the platform. The placeholder
// id is local only; the broadcast echo arrives under the canonical id and
// merges idempotently whether it lands before or after the rest response.
func (self *MutationGateway) CreatePost(text string, imageUrl string) (*Post, error) {
	placeholder := &Post{
		PostId:      NewId(),
		AuthorId:    self.userId,
		Text:        text,
		ImageUrl:    imageUrl,
		LikeUserIds: []Id{},
		CreatedAt:   time.Now(),
	}
	self.cache.MergePost(placeholder)

	result, err := self.api.CreatePostSync(&CreatePostArgs{
		Text:     text,
		ImageUrl: imageUrl,
	})
	if err == nil && result.Error != nil {
		err = errors.New(result.Error.Message)
	}
	if err == nil && result.Post == nil {
		err = errors.New("create post: missing post in response")
	}
	if err != nil {
		glog.V(2).Infof("[g]create post error = %s\n", err)
		self.cache.RemovePost(placeholder.PostId)
		return nil, err
	}

	self.cache.RemovePost(placeholder.PostId)
	self.cache.MergePost(result.Post)
	return result.Post, nil
}

func (self *MutationGateway) UpdatePost(postId Id, text string, imageUrl string) (*Post, error) {
	snapshot := self.cache.SnapshotPost(postId)

	optimistic, ok := self.cache.Post(postId)
	if ok {
		optimistic.Text = text
		optimistic.ImageUrl = imageUrl
		self.cache.MergePost(optimistic)
	}

	result, err := self.api.UpdatePostSync(&UpdatePostArgs{
		PostId:   postId,
		Text:     text,
		ImageUrl: imageUrl,
	})
	if err == nil && result.Error != nil {
		err = errors.New(result.Error.Message)
	}
	if err == nil && result.Post == nil {
		err = errors.New("update post: missing post in response")
	}
	if err != nil {
		glog.V(2).Infof("[g]update post %s error = %s\n", postId, err)
		self.cache.RestorePost(snapshot)
		return nil, err
	}

	self.cache.MergePost(result.Post)
	return result.Post, nil
}

func (self *MutationGateway) RemovePost(postId Id) error {
	snapshot := self.cache.SnapshotPost(postId)
	self.cache.RemovePost(postId)

	result, err := self.api.RemovePostSync(&RemovePostArgs{
		PostId: postId,
	})
	if err == nil && result.Error != nil {
		err = errors.New(result.Error.Message)
	}
	if err != nil {
		glog.V(2).Infof("[g]remove post %s error = %s\n", postId, err)
		self.cache.RestorePost(snapshot)
		return err
	}

	self.cache.RemovePost(postId)
	return nil
}

// ToggleLike flips the acting user's like optimistically and reconciles
// with the authoritative like state. Toggles against the same post are
// serialized through a per post lock.
func (self *MutationGateway) ToggleLike(postId Id) (*LikeState, error) {
	lock := self.likeLock(postId)
	lock.Lock()
	defer lock.Unlock()

	snapshot := self.cache.SnapshotPost(postId)
	self.cache.ToggleLikeLocal(postId, self.userId)

	result, err := self.api.ToggleLikeSync(&ToggleLikeArgs{
		PostId: postId,
	})
	if err == nil && result.Error != nil {
		err = errors.New(result.Error.Message)
	}
	if err == nil && result.Like == nil {
		err = errors.New("toggle like: missing like state in response")
	}
	if err != nil {
		glog.V(2).Infof("[g]toggle like %s error = %s\n", postId, err)
		self.cache.RestorePost(snapshot)
		return nil, err
	}

	self.cache.SetLikeState(result.Like)
	return result.Like, nil
}

func (self *MutationGateway) CreateComment(postId Id, text string) (*Comment, error) {
	placeholder := &Comment{
		CommentId: NewId(),
		PostId:    postId,
		AuthorId:  self.userId,
		Text:      text,
		CreatedAt: time.Now(),
	}
	self.cache.MergeComment(postId, placeholder)

	result, err := self.api.CreateCommentSync(&CreateCommentArgs{
		PostId: postId,
		Text:   text,
	})
	if err == nil && result.Error != nil {
		err = errors.New(result.Error.Message)
	}
	if err == nil && result.Comment == nil {
		err = errors.New("create comment: missing comment in response")
	}
	if err != nil {
		glog.V(2).Infof("[g]create comment %s error = %s\n", postId, err)
		self.cache.RemoveComment(postId, placeholder.CommentId)
		return nil, err
	}

	self.cache.RemoveComment(postId, placeholder.CommentId)
	self.cache.MergeComment(postId, result.Comment)
	return result.Comment, nil
}

func (self *MutationGateway) RemoveComment(postId Id, commentId Id) error {
	snapshot := self.cache.SnapshotPost(postId)
	self.cache.RemoveComment(postId, commentId)

	result, err := self.api.RemoveCommentSync(&RemoveCommentArgs{
		PostId:    postId,
		CommentId: commentId,
	})
	if err == nil && result.Error != nil {
		err = errors.New(result.Error.Message)
	}
	if err != nil {
		glog.V(2).Infof("[g]remove comment %s error = %s\n", commentId, err)
		self.cache.RestorePost(snapshot)
		return err
	}

	self.cache.RemoveComment(postId, commentId)
	return nil
}

// RefreshComments fetches the authoritative comment list for a post that
// is already cached, for example when its thread is opened for the first
// time. Not an optimistic mutation; there is nothing to roll back.
func (self *MutationGateway) RefreshComments(postId Id) ([]*Comment, error) {
	result, err := self.api.GetPostCommentsSync(postId)
	if err == nil && result.Error != nil {
		err = errors.New(result.Error.Message)
	}
	if err != nil {
		glog.V(2).Infof("[g]refresh comments %s error = %s\n", postId, err)
		return nil, err
	}

	self.cache.SetComments(postId, result.Comments)
	return result.Comments, nil
}

func (self *MutationGateway) UpdateProfile(name string, avatarUrl string, bio string) (*User, error) {
	previous, hadPrevious := self.cache.User(self.userId)

	self.cache.MergeUser(&User{
		UserId:    self.userId,
		Name:      name,
		AvatarUrl: avatarUrl,
		Bio:       bio,
	})

	result, err := self.api.UpdateProfileSync(&UpdateProfileArgs{
		Name:      name,
		AvatarUrl: avatarUrl,
		Bio:       bio,
	})
	if err == nil && result.Error != nil {
		err = errors.New(result.Error.Message)
	}
	if err == nil && result.User == nil {
		err = errors.New("update profile: missing user in response")
	}
	if err != nil {
		glog.V(2).Infof("[g]update profile error = %s\n", err)
		if hadPrevious {
			self.cache.MergeUser(previous)
		} else {
			// the pre-mutation state was no cached profile. restore that
			self.cache.RemoveUser(self.userId)
		}
		return nil, err
	}

	self.cache.MergeUser(result.User)
	return result.User, nil
}
