package store

import (
	"context"
	"errors"

	"github.com/quibble-app/quibble/internal/model"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrParentNotFound = errors.New("parent comment not found")
)

// Order controls how sibling comments and root listings are sorted.
type Order string

const (
	OrderCreatedDesc Order = "created_desc"
	OrderCreatedAsc  Order = "created_asc"
	OrderAuthorName  Order = "author"
)

// OrderOrDefault maps unknown values to the LIFO default.
func OrderOrDefault(s string) Order {
	switch Order(s) {
	case OrderCreatedAsc, OrderAuthorName:
		return Order(s)
	default:
		return OrderCreatedDesc
	}
}

type RootListOpts struct {
	Order   Order
	Page    int
	PerPage int
}

type Store interface {
	CommentStore
	ChallengeStore
	GetSiteStats(ctx context.Context) (model.SiteStats, error)
	Close() error
}

type CommentStore interface {
	// CreateComment upserts the author by (display name, email), verifies
	// the parent exists, and inserts the comment in one transaction. Only
	// the write pipeline may call it.
	CreateComment(ctx context.Context, author *model.Author, comment *model.Comment) (int64, error)
	GetComment(ctx context.Context, id int64) (model.Comment, error)
	ListChildren(ctx context.Context, parentID int64, order Order) ([]model.Comment, error)
	ListRoots(ctx context.Context, opts RootListOpts) ([]model.Comment, int64, error)
}

type ChallengeStore interface {
	CreateChallenge(ctx context.Context, c model.Challenge) error
	// ConsumeChallenge removes the challenge and returns what was stored.
	// Deletion and read are a single atomic statement: a second consume of
	// the same key always reports ErrNotFound.
	ConsumeChallenge(ctx context.Context, key string) (model.Challenge, error)
	PurgeExpiredChallenges(ctx context.Context) (int64, error)
}
