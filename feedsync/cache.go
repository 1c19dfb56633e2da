package feedsync

import (
	"sync"

	"golang.org/x/exp/slices"
)

type CacheListenerFunction = func()

// PostSnapshot captures one post's cached state (or its absence) so a
// failed mutation can restore it exactly, including its feed position.
type PostSnapshot struct {
	postId    Id
	post      *Post
	feedIndex int
}

// CacheStore is the authoritative local projection of the feed. One merge
// algorithm applies uniformly to optimistic edits, rest responses, and
// pushed events: insert if absent, overwrite in place if present, keyed by
// id. Merges are idempotent and commutative between "my mutation's rest
// response" and "the broadcast echo of my mutation", which can arrive in
// either order.
type CacheStore struct {
	stateLock sync.Mutex

	// post id -> post
	posts map[Id]*Post
	// head first feed ordering. a post's index is assigned on first sight
	// and never changes on update
	feedOrder []Id
	// user id -> profile projection
	users map[Id]*User

	listeners *CallbackList[CacheListenerFunction]
}

func NewCacheStore() *CacheStore {
	return &CacheStore{
		posts:     map[Id]*Post{},
		feedOrder: []Id{},
		users:     map[Id]*User{},
		listeners: NewCallbackList[CacheListenerFunction](),
	}
}

func (self *CacheStore) AddListener(listener CacheListenerFunction) func() {
	listenerId := self.listeners.Add(listener)
	return func() {
		self.listeners.Remove(listenerId)
	}
}

// listeners run outside the state lock and are recover wrapped
func (self *CacheStore) notify() {
	for _, listener := range self.listeners.Get() {
		HandleError(listener)
	}
}

// MergePost inserts the post at the head of the feed if its id is unseen,
// otherwise overwrites the cached fields in place. An incoming payload
// without comments never drops comments already attached locally.
func (self *CacheStore) MergePost(post *Post) {
	merged := post.Copy()
	merged.LikeUserIds = dedupeIds(merged.LikeUserIds)

	self.stateLock.Lock()
	existing, ok := self.posts[merged.PostId]
	if !ok {
		self.posts[merged.PostId] = merged
		self.feedOrder = append([]Id{merged.PostId}, self.feedOrder...)
	} else {
		if merged.Comments == nil {
			merged.Comments = existing.Comments
		}
		self.posts[merged.PostId] = merged
	}
	self.stateLock.Unlock()

	self.notify()
}

func (self *CacheStore) RemovePost(postId Id) {
	self.stateLock.Lock()
	_, ok := self.posts[postId]
	if ok {
		delete(self.posts, postId)
		if i := slices.Index(self.feedOrder, postId); 0 <= i {
			self.feedOrder = slices.Delete(slices.Clone(self.feedOrder), i, i+1)
		}
	}
	self.stateLock.Unlock()

	if ok {
		self.notify()
	}
}

// SetLikeState overwrites the post's like membership with the given state.
// No-op if the post is not cached.
func (self *CacheStore) SetLikeState(like *LikeState) {
	self.stateLock.Lock()
	post, ok := self.posts[like.PostId]
	if ok {
		post.LikeUserIds = dedupeIds(like.LikeUserIds)
	}
	self.stateLock.Unlock()

	if ok {
		self.notify()
	}
}

// ToggleLikeLocal flips `userId` membership in the post's like set. This is
// the optimistic edit; the authoritative like state supersedes it.
func (self *CacheStore) ToggleLikeLocal(postId Id, userId Id) (liked bool, ok bool) {
	self.stateLock.Lock()
	post, ok := self.posts[postId]
	if ok {
		if i := slices.Index(post.LikeUserIds, userId); 0 <= i {
			post.LikeUserIds = slices.Delete(slices.Clone(post.LikeUserIds), i, i+1)
			liked = false
		} else {
			post.LikeUserIds = append(slices.Clone(post.LikeUserIds), userId)
			liked = true
		}
	}
	self.stateLock.Unlock()

	if ok {
		self.notify()
	}
	return
}

// MergeComment attaches the comment to its post, keyed by comment id.
// No-op if the post is not cached (for example, feed page not loaded).
func (self *CacheStore) MergeComment(postId Id, comment *Comment) {
	merged := comment.Copy()

	self.stateLock.Lock()
	post, ok := self.posts[postId]
	if ok {
		i := slices.IndexFunc(post.Comments, func(c *Comment) bool {
			return c.CommentId == merged.CommentId
		})
		if 0 <= i {
			post.Comments[i] = merged
		} else {
			post.Comments = append(post.Comments, merged)
		}
	}
	self.stateLock.Unlock()

	if ok {
		self.notify()
	}
}

// RemoveComment detaches the comment by id. No-op if the post or the
// comment is not cached.
func (self *CacheStore) RemoveComment(postId Id, commentId Id) {
	changed := false

	self.stateLock.Lock()
	if post, ok := self.posts[postId]; ok {
		i := slices.IndexFunc(post.Comments, func(c *Comment) bool {
			return c.CommentId == commentId
		})
		if 0 <= i {
			post.Comments = slices.Delete(slices.Clone(post.Comments), i, i+1)
			changed = true
		}
	}
	self.stateLock.Unlock()

	if changed {
		self.notify()
	}
}

// SetComments replaces the post's comment list with the authoritative list.
func (self *CacheStore) SetComments(postId Id, comments []*Comment) {
	self.stateLock.Lock()
	post, ok := self.posts[postId]
	if ok {
		next := make([]*Comment, len(comments))
		for i, comment := range comments {
			next[i] = comment.Copy()
		}
		post.Comments = next
	}
	self.stateLock.Unlock()

	if ok {
		self.notify()
	}
}

func (self *CacheStore) MergeUser(user *User) {
	self.stateLock.Lock()
	self.users[user.UserId] = user.Copy()
	self.stateLock.Unlock()

	self.notify()
}

// RemoveUser drops the cached profile projection. Used to roll back an
// optimistic profile merge when no profile was cached before it.
func (self *CacheStore) RemoveUser(userId Id) {
	self.stateLock.Lock()
	_, ok := self.users[userId]
	if ok {
		delete(self.users, userId)
	}
	self.stateLock.Unlock()

	if ok {
		self.notify()
	}
}

// ReplaceAll invalidates the cached feed and replaces it with the
// authoritative posts, in the given (head first) order. Used on resync.
func (self *CacheStore) ReplaceAll(posts []*Post) {
	self.stateLock.Lock()
	self.posts = map[Id]*Post{}
	self.feedOrder = make([]Id, 0, len(posts))
	for _, post := range posts {
		merged := post.Copy()
		merged.LikeUserIds = dedupeIds(merged.LikeUserIds)
		if _, ok := self.posts[merged.PostId]; ok {
			// id is the dedupe key. later entries win
			self.posts[merged.PostId] = merged
			continue
		}
		self.posts[merged.PostId] = merged
		self.feedOrder = append(self.feedOrder, merged.PostId)
	}
	self.stateLock.Unlock()

	self.notify()
}

// Feed returns copies of the cached posts in feed order.
func (self *CacheStore) Feed() []*Post {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	feed := make([]*Post, 0, len(self.feedOrder))
	for _, postId := range self.feedOrder {
		if post, ok := self.posts[postId]; ok {
			feed = append(feed, post.Copy())
		}
	}
	return feed
}

func (self *CacheStore) Post(postId Id) (*Post, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	post, ok := self.posts[postId]
	if !ok {
		return nil, false
	}
	return post.Copy(), true
}

func (self *CacheStore) User(userId Id) (*User, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	user, ok := self.users[userId]
	if !ok {
		return nil, false
	}
	return user.Copy(), true
}

func (self *CacheStore) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.posts)
}

// SnapshotPost captures the post's current state for rollback.
func (self *CacheStore) SnapshotPost(postId Id) *PostSnapshot {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	snapshot := &PostSnapshot{
		postId:    postId,
		feedIndex: slices.Index(self.feedOrder, postId),
	}
	if post, ok := self.posts[postId]; ok {
		snapshot.post = post.Copy()
	}
	return snapshot
}

// RestorePost rolls the post back to a snapshot: re-inserts it at its
// previous feed position if the snapshot held it, removes it if not.
func (self *CacheStore) RestorePost(snapshot *PostSnapshot) {
	self.stateLock.Lock()
	if snapshot.post == nil {
		delete(self.posts, snapshot.postId)
		if i := slices.Index(self.feedOrder, snapshot.postId); 0 <= i {
			self.feedOrder = slices.Delete(slices.Clone(self.feedOrder), i, i+1)
		}
	} else {
		self.posts[snapshot.postId] = snapshot.post.Copy()
		if !slices.Contains(self.feedOrder, snapshot.postId) {
			i := snapshot.feedIndex
			if i < 0 || len(self.feedOrder) < i {
				i = len(self.feedOrder)
			}
			self.feedOrder = slices.Insert(slices.Clone(self.feedOrder), i, snapshot.postId)
		}
	}
	self.stateLock.Unlock()

	self.notify()
}

// ApplyEvent merges a pushed event into the cache. Events are authoritative
// snapshots; applying the same event twice, or applying it before or after
// the rest response for the same mutation, converges to the same state.
func (self *CacheStore) ApplyEvent(event *FeedEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	switch event.Type {
	case FeedEventTypePostCreated, FeedEventTypePostUpdated:
		self.MergePost(event.Post)
	case FeedEventTypePostDeleted:
		self.RemovePost(*event.PostId)
	case FeedEventTypeLikeToggled:
		self.SetLikeState(event.Like)
	case FeedEventTypeNewComment:
		self.MergeComment(*event.PostId, event.Comment)
	case FeedEventTypeCommentDeleted:
		self.RemoveComment(*event.PostId, *event.CommentId)
	case FeedEventTypeProfileUpdated:
		self.MergeUser(event.User)
	}
	return nil
}
