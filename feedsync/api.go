package feedsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// FeedApi is the client for the platform rest api, which owns auth,
// persistence, and mutation atomicity. Every mutation returns the canonical
// entity state, which seeds or corrects the cache.
type FeedApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewFeedApi(apiUrl string) *FeedApi {
	return NewFeedApiWithContext(context.Background(), apiUrl)
}

func NewFeedApiWithContext(ctx context.Context, apiUrl string) *FeedApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &FeedApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *FeedApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

type FeedApiError struct {
	Message string `json:"message"`
}

type CreatePostCallback apiCallback[*CreatePostResult]

type CreatePostArgs struct {
	Text     string `json:"text"`
	ImageUrl string `json:"image_url,omitempty"`
}

type CreatePostResult struct {
	Post  *Post         `json:"post,omitempty"`
	Error *FeedApiError `json:"error,omitempty"`
}

func (self *FeedApi) CreatePost(createPost *CreatePostArgs, callback CreatePostCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/feed/create-post", self.apiUrl),
		createPost,
		self.byJwt,
		&CreatePostResult{},
		callback,
	)
}

func (self *FeedApi) CreatePostSync(createPost *CreatePostArgs) (*CreatePostResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/feed/create-post", self.apiUrl),
		createPost,
		self.byJwt,
		&CreatePostResult{},
		NewNoopApiCallback[*CreatePostResult](),
	)
}

type UpdatePostCallback apiCallback[*UpdatePostResult]

type UpdatePostArgs struct {
	PostId   Id     `json:"post_id"`
	Text     string `json:"text"`
	ImageUrl string `json:"image_url,omitempty"`
}

type UpdatePostResult struct {
	Post  *Post         `json:"post,omitempty"`
	Error *FeedApiError `json:"error,omitempty"`
}

func (self *FeedApi) UpdatePostSync(updatePost *UpdatePostArgs) (*UpdatePostResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/feed/update-post", self.apiUrl),
		updatePost,
		self.byJwt,
		&UpdatePostResult{},
		NewNoopApiCallback[*UpdatePostResult](),
	)
}

type RemovePostCallback apiCallback[*RemovePostResult]

type RemovePostArgs struct {
	PostId Id `json:"post_id"`
}

type RemovePostResult struct {
	PostId Id            `json:"post_id"`
	Error  *FeedApiError `json:"error,omitempty"`
}

func (self *FeedApi) RemovePostSync(removePost *RemovePostArgs) (*RemovePostResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/feed/remove-post", self.apiUrl),
		removePost,
		self.byJwt,
		&RemovePostResult{},
		NewNoopApiCallback[*RemovePostResult](),
	)
}

type ToggleLikeCallback apiCallback[*ToggleLikeResult]

type ToggleLikeArgs struct {
	PostId Id `json:"post_id"`
}

type ToggleLikeResult struct {
	Like  *LikeState    `json:"like,omitempty"`
	Error *FeedApiError `json:"error,omitempty"`
}

// the platform applies the toggle as a single atomic read modify write on
// the post's like set, so concurrent toggles by different users both land
// and a re-toggle by the same user is idempotent, not a double flip.
func (self *FeedApi) ToggleLikeSync(toggleLike *ToggleLikeArgs) (*ToggleLikeResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/feed/toggle-like", self.apiUrl),
		toggleLike,
		self.byJwt,
		&ToggleLikeResult{},
		NewNoopApiCallback[*ToggleLikeResult](),
	)
}

type CreateCommentCallback apiCallback[*CreateCommentResult]

type CreateCommentArgs struct {
	PostId Id     `json:"post_id"`
	Text   string `json:"text"`
}

type CreateCommentResult struct {
	Comment *Comment      `json:"comment,omitempty"`
	Error   *FeedApiError `json:"error,omitempty"`
}

func (self *FeedApi) CreateCommentSync(createComment *CreateCommentArgs) (*CreateCommentResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/feed/create-comment", self.apiUrl),
		createComment,
		self.byJwt,
		&CreateCommentResult{},
		NewNoopApiCallback[*CreateCommentResult](),
	)
}

type RemoveCommentCallback apiCallback[*RemoveCommentResult]

type RemoveCommentArgs struct {
	PostId    Id `json:"post_id"`
	CommentId Id `json:"comment_id"`
}

type RemoveCommentResult struct {
	CommentId Id            `json:"comment_id"`
	Error     *FeedApiError `json:"error,omitempty"`
}

func (self *FeedApi) RemoveCommentSync(removeComment *RemoveCommentArgs) (*RemoveCommentResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/feed/remove-comment", self.apiUrl),
		removeComment,
		self.byJwt,
		&RemoveCommentResult{},
		NewNoopApiCallback[*RemoveCommentResult](),
	)
}

type UpdateProfileCallback apiCallback[*UpdateProfileResult]

type UpdateProfileArgs struct {
	Name      string `json:"name,omitempty"`
	AvatarUrl string `json:"avatar_url,omitempty"`
	Bio       string `json:"bio,omitempty"`
}

type UpdateProfileResult struct {
	User  *User         `json:"user,omitempty"`
	Error *FeedApiError `json:"error,omitempty"`
}

func (self *FeedApi) UpdateProfileSync(updateProfile *UpdateProfileArgs) (*UpdateProfileResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/users/update-profile", self.apiUrl),
		updateProfile,
		self.byJwt,
		&UpdateProfileResult{},
		NewNoopApiCallback[*UpdateProfileResult](),
	)
}

type GetFeedCallback apiCallback[*GetFeedResult]

type GetFeedResult struct {
	// descending create time, feed head first
	Posts []*Post       `json:"posts"`
	Error *FeedApiError `json:"error,omitempty"`
}

func (self *FeedApi) GetFeed(callback GetFeedCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/feed/posts", self.apiUrl),
		self.byJwt,
		&GetFeedResult{},
		callback,
	)
}

func (self *FeedApi) GetFeedSync() (*GetFeedResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/feed/posts", self.apiUrl),
		self.byJwt,
		&GetFeedResult{},
		NewNoopApiCallback[*GetFeedResult](),
	)
}

type GetPostCommentsCallback apiCallback[*GetPostCommentsResult]

type GetPostCommentsResult struct {
	PostId   Id            `json:"post_id"`
	Comments []*Comment    `json:"comments"`
	Error    *FeedApiError `json:"error,omitempty"`
}

func (self *FeedApi) GetPostCommentsSync(postId Id) (*GetPostCommentsResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/feed/posts/%s/comments", self.apiUrl, postId),
		self.byJwt,
		&GetPostCommentsResult{},
		NewNoopApiCallback[*GetPostCommentsResult](),
	)
}

func (self *FeedApi) Close() {
	self.cancel()
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
