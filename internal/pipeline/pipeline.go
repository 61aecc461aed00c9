// Package pipeline is the single write path for comments: validate,
// consume the captcha token, persist, then schedule the asynchronous
// fanout. Persistence is the durability point; everything after it can
// only degrade delivery, never the write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"net/url"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/quibble-app/quibble/internal/attach"
	"github.com/quibble-app/quibble/internal/captcha"
	"github.com/quibble-app/quibble/internal/model"
	"github.com/quibble-app/quibble/internal/queue"
	"github.com/quibble-app/quibble/internal/sanitize"
	"github.com/quibble-app/quibble/internal/store"
)

var ErrValidation = errors.New("validation failed")

const maxBodyLength = 5000

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9]{1,50}$`)

type Attachment struct {
	Name string
	Data []byte
}

type Request struct {
	AuthorName      string
	AuthorEmail     string
	HomepageURL     string
	Text            string
	ParentID        *int64
	CaptchaKey      string
	CaptchaResponse string
	Attachment      *Attachment
}

type Result struct {
	Comment model.Comment
	JobID   string
}

// Invalidator is the cache side effect of a successful write.
type Invalidator interface {
	InvalidateAll()
}

type Pipeline struct {
	store          store.CommentStore
	captcha        *captcha.Service
	sanitizer      *sanitize.Sanitizer
	cache          Invalidator
	queue          *queue.Queue
	log            *log.Logger
	requireCaptcha bool
}

func New(st store.CommentStore, cap *captcha.Service, san *sanitize.Sanitizer, cache Invalidator, q *queue.Queue, logger *log.Logger, requireCaptcha bool) *Pipeline {
	return &Pipeline{
		store:          st,
		captcha:        cap,
		sanitizer:      san,
		cache:          cache,
		queue:          q,
		log:            logger,
		requireCaptcha: requireCaptcha,
	}
}

// Submit runs the write path and returns as soon as the notification job
// is scheduled; it never waits for fanout. An enqueue failure after a
// successful persist is logged as a delivery risk but the write still
// succeeds: the comment exists either way.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Result, error) {
	text, err := p.validate(&req)
	if err != nil {
		return Result{}, err
	}

	if req.CaptchaKey != "" || req.CaptchaResponse != "" {
		if err := p.captcha.Consume(ctx, req.CaptchaKey, req.CaptchaResponse); err != nil {
			return Result{}, err
		}
	} else if p.requireCaptcha {
		return Result{}, fmt.Errorf("%w: captcha required", ErrValidation)
	}

	var attachmentRef string
	if req.Attachment != nil {
		if err := attach.Validate(req.Attachment.Name, req.Attachment.Data); err != nil {
			return Result{}, err
		}
		attachmentRef = req.Attachment.Name
	}

	author := model.Author{
		DisplayName: req.AuthorName,
		Email:       req.AuthorEmail,
		HomepageURL: req.HomepageURL,
	}
	comment := model.Comment{
		ParentID:   req.ParentID,
		Text:       text,
		Attachment: attachmentRef,
		CreatedAt:  time.Now(),
	}
	if _, err := p.store.CreateComment(ctx, &author, &comment); err != nil {
		return Result{}, err
	}

	// The listing cache is stale the moment the row commits.
	p.cache.InvalidateAll()

	job := queue.Job{
		ID:         uuid.NewString(),
		CommentID:  comment.ID,
		EnqueuedAt: time.Now(),
	}
	if err := p.queue.Enqueue(job); err != nil {
		p.log.Printf("comment %d persisted but notification not enqueued: %v", comment.ID, err)
	}

	return Result{Comment: comment, JobID: job.ID}, nil
}

func (p *Pipeline) validate(req *Request) (string, error) {
	if !namePattern.MatchString(req.AuthorName) {
		return "", fmt.Errorf("%w: display name must be 1-50 letters or digits", ErrValidation)
	}
	if _, err := mail.ParseAddress(req.AuthorEmail); err != nil {
		return "", fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if req.HomepageURL != "" {
		u, err := url.Parse(req.HomepageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Errorf("%w: invalid homepage url", ErrValidation)
		}
	}

	text, err := p.sanitizer.Clean(req.Text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if text == "" {
		return "", fmt.Errorf("%w: text required", ErrValidation)
	}
	if utf8.RuneCountInString(text) > maxBodyLength {
		return "", fmt.Errorf("%w: text exceeds %d characters", ErrValidation, maxBodyLength)
	}
	return text, nil
}
