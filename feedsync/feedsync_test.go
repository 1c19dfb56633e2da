package feedsync

import (
	"encoding/json"
	"flag"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestIdOrder(t *testing.T) {
	// ulids are ordered by create time
	// the feed uses this property to break create time ties

	a := NewId()
	for i := 0; i < 64*1024; i += 1 {
		b := NewId()
		assert.Equal(t, a.LessThan(b), true)
		assert.Equal(t, b.LessThan(a), false)
		assert.Equal(t, b.LessThan(b), false)
		assert.Equal(t, b == a, false)
		assert.Equal(t, b == b, true)
		a = b
	}
}

func TestIdJsonCodec(t *testing.T) {
	type Test struct {
		A Id  `json:"a,omitempty"`
		B *Id `json:"b,omitempty"`
	}

	test1 := &Test{}
	test1.A = NewId()
	b_ := NewId()
	test1.B = &b_

	test1Json, err := json.Marshal(test1)
	assert.Equal(t, err, nil)

	test2 := &Test{}
	err = json.Unmarshal(test1Json, test2)
	assert.Equal(t, err, nil)

	assert.Equal(t, test1.A, test2.A)
	assert.Equal(t, test1.B, test2.B)

	idStr := test1.A.String()
	parsed, err := ParseId(idStr)
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed, test1.A)
}

func TestPostLikeSet(t *testing.T) {
	x := NewId()
	y := NewId()

	post := &Post{
		PostId:      NewId(),
		AuthorId:    x,
		Text:        "hello",
		LikeUserIds: []Id{x, y, x},
	}

	assert.Equal(t, post.LikedBy(x), true)
	assert.Equal(t, post.LikedBy(NewId()), false)

	deduped := dedupeIds(post.LikeUserIds)
	assert.Equal(t, len(deduped), 2)
	assert.Equal(t, deduped[0], x)
	assert.Equal(t, deduped[1], y)

	postCopy := post.Copy()
	postCopy.LikeUserIds[0] = NewId()
	assert.Equal(t, post.LikeUserIds[0], x)
}
