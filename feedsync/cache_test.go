package feedsync

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func newTestPost(authorId Id, text string) *Post {
	return &Post{
		PostId:      NewId(),
		AuthorId:    authorId,
		Text:        text,
		LikeUserIds: []Id{},
		CreatedAt:   time.Now(),
	}
}

func TestCacheIdempotentInsert(t *testing.T) {
	cache := NewCacheStore()

	post := newTestPost(NewId(), "hello")

	// any number of created events for the same id leaves exactly one
	// entry with the latest field values
	cache.ApplyEvent(NewPostCreatedEvent(post))
	cache.ApplyEvent(NewPostCreatedEvent(post))

	updated := post.Copy()
	updated.Text = "hello again"
	cache.ApplyEvent(NewPostCreatedEvent(updated))

	assert.Equal(t, cache.Len(), 1)
	cached, ok := cache.Post(post.PostId)
	assert.Equal(t, ok, true)
	assert.Equal(t, cached.Text, "hello again")
}

func TestCacheOrderIndependence(t *testing.T) {
	// the rest response for a creation and its broadcast echo can land in
	// either order. both orders converge to the same state

	post := newTestPost(NewId(), "hello")

	restFirst := NewCacheStore()
	restFirst.MergePost(post)
	restFirst.ApplyEvent(NewPostCreatedEvent(post))

	echoFirst := NewCacheStore()
	echoFirst.ApplyEvent(NewPostCreatedEvent(post))
	echoFirst.MergePost(post)

	assert.Equal(t, restFirst.Len(), 1)
	assert.Equal(t, echoFirst.Len(), 1)

	a, _ := restFirst.Post(post.PostId)
	b, _ := echoFirst.Post(post.PostId)
	assert.Equal(t, a.Text, b.Text)
	assert.Equal(t, len(restFirst.Feed()), 1)
	assert.Equal(t, len(echoFirst.Feed()), 1)
}

func TestCacheFeedPositionStable(t *testing.T) {
	cache := NewCacheStore()

	p1 := newTestPost(NewId(), "first")
	p2 := newTestPost(NewId(), "second")

	cache.MergePost(p1)
	cache.MergePost(p2)

	feed := cache.Feed()
	assert.Equal(t, len(feed), 2)
	// newest at the head
	assert.Equal(t, feed[0].PostId, p2.PostId)
	assert.Equal(t, feed[1].PostId, p1.PostId)

	// updating p1 must not move it back to the head
	updated := p1.Copy()
	updated.Text = "first, edited"
	cache.ApplyEvent(NewPostUpdatedEvent(updated))

	feed = cache.Feed()
	assert.Equal(t, feed[0].PostId, p2.PostId)
	assert.Equal(t, feed[1].PostId, p1.PostId)
	assert.Equal(t, feed[1].Text, "first, edited")
}

func TestCacheLikeConvergence(t *testing.T) {
	// two rapid optimistic toggles followed by a single authoritative
	// like state. the final value is the event's value, not the client's
	// intermediate guess

	cache := NewCacheStore()
	userId := NewId()

	post := newTestPost(NewId(), "likeable")
	cache.MergePost(post)

	liked, ok := cache.ToggleLikeLocal(post.PostId, userId)
	assert.Equal(t, ok, true)
	assert.Equal(t, liked, true)

	liked, _ = cache.ToggleLikeLocal(post.PostId, userId)
	assert.Equal(t, liked, false)

	cache.ApplyEvent(NewLikeToggledEvent(&LikeState{
		PostId:      post.PostId,
		LikeCount:   1,
		LikeUserIds: []Id{userId},
		UserId:      userId,
		Liked:       true,
	}))

	cached, _ := cache.Post(post.PostId)
	assert.Equal(t, cached.LikedBy(userId), true)
	assert.Equal(t, cached.LikeCount(), 1)
}

func TestCacheLikeSetNoDuplicates(t *testing.T) {
	cache := NewCacheStore()
	x := NewId()
	y := NewId()

	post := newTestPost(x, "popular")
	cache.MergePost(post)

	// a payload carrying duplicates is normalized on merge
	cache.ApplyEvent(NewLikeToggledEvent(&LikeState{
		PostId:      post.PostId,
		LikeCount:   2,
		LikeUserIds: []Id{x, y, x},
		UserId:      y,
		Liked:       true,
	}))

	cached, _ := cache.Post(post.PostId)
	assert.Equal(t, cached.LikeCount(), 2)
	assert.Equal(t, cached.LikedBy(x), true)
	assert.Equal(t, cached.LikedBy(y), true)
}

func TestCacheCommentAttach(t *testing.T) {
	cache := NewCacheStore()
	authorId := NewId()

	post := newTestPost(authorId, "discuss")
	cache.MergePost(post)

	comment := &Comment{
		CommentId: NewId(),
		PostId:    post.PostId,
		AuthorId:  authorId,
		Text:      "first",
		CreatedAt: time.Now(),
	}

	cache.ApplyEvent(NewNewCommentEvent(post.PostId, comment))
	// duplicate delivery is a no-op
	cache.ApplyEvent(NewNewCommentEvent(post.PostId, comment))

	cached, _ := cache.Post(post.PostId)
	assert.Equal(t, len(cached.Comments), 1)
	assert.Equal(t, cached.Comments[0].Text, "first")

	// a post update without comments keeps the attached comments
	updated := post.Copy()
	updated.Comments = nil
	updated.Text = "discuss, edited"
	cache.ApplyEvent(NewPostUpdatedEvent(updated))

	cached, _ = cache.Post(post.PostId)
	assert.Equal(t, len(cached.Comments), 1)
	assert.Equal(t, cached.Text, "discuss, edited")

	cache.ApplyEvent(NewCommentDeletedEvent(post.PostId, comment.CommentId))
	cached, _ = cache.Post(post.PostId)
	assert.Equal(t, len(cached.Comments), 0)
}

func TestCacheCommentsSurviveDecodedUpdate(t *testing.T) {
	cache := NewCacheStore()
	authorId := NewId()

	post := newTestPost(authorId, "discuss")
	cache.MergePost(post)
	cache.MergeComment(post.PostId, &Comment{
		CommentId: NewId(),
		PostId:    post.PostId,
		AuthorId:  authorId,
		Text:      "first",
		CreatedAt: time.Now(),
	})

	// the collaborator omits comments on post updates. a frame decoded off
	// the wire carries nil comments, and the merge keeps the attached list
	updated := post.Copy()
	updated.Text = "discuss, edited"
	frame, err := EncodeFeedEvent(NewPostUpdatedEvent(updated))
	assert.Equal(t, err, nil)
	event, err := DecodeFeedEvent(frame)
	assert.Equal(t, err, nil)
	assert.Equal(t, event.Post.Comments == nil, true)
	cache.ApplyEvent(event)

	cached, _ := cache.Post(post.PostId)
	assert.Equal(t, len(cached.Comments), 1)
	assert.Equal(t, cached.Text, "discuss, edited")
}

func TestCacheCommentOnUncachedPost(t *testing.T) {
	cache := NewCacheStore()

	// the parent post is not cached, for example the feed page is not
	// loaded. attach and remove are no-ops, not errors
	postId := NewId()
	comment := &Comment{
		CommentId: NewId(),
		PostId:    postId,
		AuthorId:  NewId(),
		Text:      "into the void",
		CreatedAt: time.Now(),
	}

	cache.ApplyEvent(NewNewCommentEvent(postId, comment))
	cache.ApplyEvent(NewCommentDeletedEvent(postId, comment.CommentId))
	assert.Equal(t, cache.Len(), 0)
}

func TestCachePostDeleted(t *testing.T) {
	cache := NewCacheStore()

	post := newTestPost(NewId(), "fleeting")
	cache.MergePost(post)
	assert.Equal(t, cache.Len(), 1)

	cache.ApplyEvent(NewPostDeletedEvent(post.PostId))
	assert.Equal(t, cache.Len(), 0)
	// duplicate delete is a no-op
	cache.ApplyEvent(NewPostDeletedEvent(post.PostId))
	assert.Equal(t, cache.Len(), 0)
}

func TestCacheSnapshotRestore(t *testing.T) {
	cache := NewCacheStore()
	userId := NewId()

	p1 := newTestPost(userId, "first")
	p2 := newTestPost(userId, "second")
	p3 := newTestPost(userId, "third")
	cache.MergePost(p1)
	cache.MergePost(p2)
	cache.MergePost(p3)

	// restore after removal puts the post back at its old feed position
	snapshot := cache.SnapshotPost(p2.PostId)
	cache.RemovePost(p2.PostId)
	assert.Equal(t, cache.Len(), 2)

	cache.RestorePost(snapshot)
	feed := cache.Feed()
	assert.Equal(t, len(feed), 3)
	assert.Equal(t, feed[0].PostId, p3.PostId)
	assert.Equal(t, feed[1].PostId, p2.PostId)
	assert.Equal(t, feed[2].PostId, p1.PostId)

	// restore of an absent snapshot removes the optimistic insert
	optimistic := newTestPost(userId, "optimistic")
	snapshot = cache.SnapshotPost(optimistic.PostId)
	cache.MergePost(optimistic)
	assert.Equal(t, cache.Len(), 4)

	cache.RestorePost(snapshot)
	assert.Equal(t, cache.Len(), 3)
}

func TestCacheReplaceAll(t *testing.T) {
	cache := NewCacheStore()

	stale := newTestPost(NewId(), "stale")
	cache.MergePost(stale)

	p1 := newTestPost(NewId(), "fresh 1")
	p2 := newTestPost(NewId(), "fresh 2")
	cache.ReplaceAll([]*Post{p2, p1})

	assert.Equal(t, cache.Len(), 2)
	_, ok := cache.Post(stale.PostId)
	assert.Equal(t, ok, false)

	feed := cache.Feed()
	assert.Equal(t, feed[0].PostId, p2.PostId)
	assert.Equal(t, feed[1].PostId, p1.PostId)
}

func TestCacheListener(t *testing.T) {
	cache := NewCacheStore()

	changes := 0
	unsub := cache.AddListener(func() {
		changes += 1
	})

	cache.MergePost(newTestPost(NewId(), "a"))
	assert.Equal(t, changes, 1)

	// a panicking listener is recovered and does not break merges
	cache.AddListener(func() {
		panic("listener bug")
	})
	cache.MergePost(newTestPost(NewId(), "b"))
	assert.Equal(t, changes, 2)

	unsub()
	cache.MergePost(newTestPost(NewId(), "c"))
	assert.Equal(t, changes, 2)
	assert.Equal(t, cache.Len(), 3)
}

func TestCacheProfileUpdated(t *testing.T) {
	cache := NewCacheStore()
	userId := NewId()

	cache.ApplyEvent(NewProfileUpdatedEvent(&User{
		UserId: userId,
		Name:   "Abebe",
		Bio:    "hello",
	}))

	user, ok := cache.User(userId)
	assert.Equal(t, ok, true)
	assert.Equal(t, user.Name, "Abebe")

	cache.ApplyEvent(NewProfileUpdatedEvent(&User{
		UserId: userId,
		Name:   "Abebe B.",
	}))
	user, _ = cache.User(userId)
	assert.Equal(t, user.Name, "Abebe B.")
}
