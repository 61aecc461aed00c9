// Package tree turns the flat parent-linked comment table into nested
// reply structures.
package tree

import (
	"context"

	"github.com/quibble-app/quibble/internal/model"
	"github.com/quibble-app/quibble/internal/store"
)

// DefaultMaxDepth caps serialization cost for pathological reply chains.
// Replies below the bound are silently truncated; callers that need them
// must re-query from a deeper root.
const DefaultMaxDepth = 5

// ChildLister is the slice of the comment store the materializer needs.
type ChildLister interface {
	ListChildren(ctx context.Context, parentID int64, order store.Order) ([]model.Comment, error)
}

type Materializer struct {
	store ChildLister
}

func NewMaterializer(st ChildLister) *Materializer {
	return &Materializer{store: st}
}

// Materialize expands root breadth-first, level by level. Each level is
// ordered independently by order. Nodes at depth maxDepth are returned
// with an empty children list whether or not deeper replies exist.
func (m *Materializer) Materialize(ctx context.Context, root model.Comment, order store.Order, maxDepth int) (model.CommentNode, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	node := model.CommentNode{Comment: root, Children: []model.CommentNode{}}

	type item struct {
		node  *model.CommentNode
		depth int
	}
	queue := []item{{node: &node, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= maxDepth {
			continue
		}
		children, err := m.store.ListChildren(ctx, cur.node.Comment.ID, order)
		if err != nil {
			return model.CommentNode{}, err
		}
		cur.node.Children = make([]model.CommentNode, len(children))
		for i, child := range children {
			cur.node.Children[i] = model.CommentNode{Comment: child, Children: []model.CommentNode{}}
			queue = append(queue, item{node: &cur.node.Children[i], depth: cur.depth + 1})
		}
	}

	return node, nil
}

// MaterializeAll expands a batch of roots with the same ordering and bound.
func (m *Materializer) MaterializeAll(ctx context.Context, roots []model.Comment, order store.Order, maxDepth int) ([]model.CommentNode, error) {
	nodes := make([]model.CommentNode, 0, len(roots))
	for _, root := range roots {
		node, err := m.Materialize(ctx, root, order, maxDepth)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
