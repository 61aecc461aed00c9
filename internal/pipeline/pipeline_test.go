package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quibble-app/quibble/internal/attach"
	"github.com/quibble-app/quibble/internal/captcha"
	"github.com/quibble-app/quibble/internal/queue"
	"github.com/quibble-app/quibble/internal/sanitize"
	"github.com/quibble-app/quibble/internal/store"
	"github.com/quibble-app/quibble/internal/store/sqlite"
)

type countingCache struct {
	mu          sync.Mutex
	invalidated int
}

func (c *countingCache) InvalidateAll() {
	c.mu.Lock()
	c.invalidated++
	c.mu.Unlock()
}

func (c *countingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated
}

type env struct {
	store    store.Store
	captcha  *captcha.Service
	queue    *queue.Queue
	cache    *countingCache
	pipeline *Pipeline
}

func newEnv(t *testing.T, requireCaptcha bool) *env {
	t.Helper()
	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cap := captcha.NewService(st, "test-secret", time.Minute)
	q := queue.New(8)
	cache := &countingCache{}
	logger := log.New(io.Discard, "", 0)
	return &env{
		store:    st,
		captcha:  cap,
		queue:    q,
		cache:    cache,
		pipeline: New(st, cap, sanitize.New(), cache, q, logger, requireCaptcha),
	}
}

func (e *env) solvedCaptcha(t *testing.T) (string, string) {
	t.Helper()
	c, err := e.captcha.Issue(context.Background())
	require.NoError(t, err)
	parts := strings.Fields(c.Question)
	require.Len(t, parts, 5)
	a, _ := strconv.Atoi(parts[0])
	b, _ := strconv.Atoi(parts[2])
	return c.Key, strconv.Itoa(a + b)
}

func validRequest() Request {
	return Request{
		AuthorName:  "ann",
		AuthorEmail: "ann@example.com",
		Text:        "first!",
	}
}

func TestSubmitPersistsAndSchedules(t *testing.T) {
	e := newEnv(t, true)
	req := validRequest()
	req.CaptchaKey, req.CaptchaResponse = e.solvedCaptcha(t)

	res, err := e.pipeline.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.NotZero(t, res.Comment.ID)
	assert.Equal(t, "ann", res.Comment.AuthorName)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, 1, e.cache.count())

	select {
	case job := <-e.queue.Jobs():
		assert.Equal(t, res.JobID, job.ID)
		assert.Equal(t, res.Comment.ID, job.CommentID)
	default:
		t.Fatal("no notification job enqueued")
	}
}

func TestSubmitMissingParent(t *testing.T) {
	e := newEnv(t, false)
	parent := int64(999)
	req := validRequest()
	req.ParentID = &parent

	_, err := e.pipeline.Submit(context.Background(), req)
	require.ErrorIs(t, err, store.ErrParentNotFound)

	// Nothing persisted, nothing scheduled, cache untouched.
	stats, serr := e.store.GetSiteStats(context.Background())
	require.NoError(t, serr)
	assert.Zero(t, stats.Comments)
	assert.Zero(t, e.cache.count())
	select {
	case <-e.queue.Jobs():
		t.Fatal("job enqueued for a failed write")
	default:
	}
}

func TestSubmitCaptchaRequired(t *testing.T) {
	e := newEnv(t, true)
	_, err := e.pipeline.Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmitCaptchaMismatchBurnsToken(t *testing.T) {
	e := newEnv(t, true)
	key, _ := e.solvedCaptcha(t)

	req := validRequest()
	req.CaptchaKey, req.CaptchaResponse = key, "wrong"
	_, err := e.pipeline.Submit(context.Background(), req)
	require.ErrorIs(t, err, captcha.ErrChallengeMismatch)

	// The token is spent even on mismatch; a correct retry must fail too.
	req.CaptchaResponse = "whatever"
	_, err = e.pipeline.Submit(context.Background(), req)
	assert.ErrorIs(t, err, captcha.ErrChallengeNotFound)
}

func TestSubmitCaptchaOptionalWhenDisabled(t *testing.T) {
	e := newEnv(t, false)
	res, err := e.pipeline.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotZero(t, res.Comment.ID)
}

func TestSubmitBodyCapCountsCharacters(t *testing.T) {
	e := newEnv(t, false)
	req := validRequest()
	// 5000 two-byte runes: at the cap in characters, over it in bytes.
	req.Text = strings.Repeat("é", 5000)

	res, err := e.pipeline.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.NotZero(t, res.Comment.ID)
}

func TestSubmitSanitizesBody(t *testing.T) {
	e := newEnv(t, false)
	req := validRequest()
	req.Text = "<b>bold</b> and <strong>loud</strong>"

	res, err := e.pipeline.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "bold and <strong>loud</strong>", res.Comment.Text)
}

func TestSubmitRejectsBadAttachment(t *testing.T) {
	e := newEnv(t, false)
	req := validRequest()
	req.Attachment = &Attachment{Name: "virus.exe", Data: []byte("x")}

	_, err := e.pipeline.Submit(context.Background(), req)
	require.ErrorIs(t, err, attach.ErrRejected)

	stats, serr := e.store.GetSiteStats(context.Background())
	require.NoError(t, serr)
	assert.Zero(t, stats.Comments)
}

func TestSubmitValidation(t *testing.T) {
	e := newEnv(t, false)
	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty name", func(r *Request) { r.AuthorName = "" }},
		{"name with spaces", func(r *Request) { r.AuthorName = "a b" }},
		{"bad email", func(r *Request) { r.AuthorEmail = "not-an-email" }},
		{"bad homepage scheme", func(r *Request) { r.HomepageURL = "ftp://example.com" }},
		{"empty text", func(r *Request) { r.Text = "   " }},
		{"oversized text", func(r *Request) { r.Text = strings.Repeat("a", 5001) }},
		{"oversized multibyte text", func(r *Request) { r.Text = strings.Repeat("é", 5001) }},
		{"unbalanced markup", func(r *Request) { r.Text = "<i>oops" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := e.pipeline.Submit(context.Background(), req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSubmitSurvivesFullQueue(t *testing.T) {
	e := newEnv(t, false)
	// Saturate the queue so the fanout job cannot be scheduled.
	for i := 0; i < 8; i++ {
		require.NoError(t, e.queue.Enqueue(queue.Job{ID: "filler"}))
	}

	res, err := e.pipeline.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotZero(t, res.Comment.ID)
	assert.Equal(t, 1, e.cache.count())
}
