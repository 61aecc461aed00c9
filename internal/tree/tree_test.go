package tree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quibble-app/quibble/internal/model"
	"github.com/quibble-app/quibble/internal/store"
)

// fakeLister serves children from an in-memory parent index and records
// the requested ordering.
type fakeLister struct {
	children map[int64][]model.Comment
	orders   []store.Order
}

func (f *fakeLister) ListChildren(_ context.Context, parentID int64, order store.Order) ([]model.Comment, error) {
	f.orders = append(f.orders, order)
	return f.children[parentID], nil
}

func comment(id int64, parent *int64) model.Comment {
	return model.Comment{ID: id, ParentID: parent, Text: "c", CreatedAt: time.Unix(id, 0)}
}

// chain builds a linear reply chain of the given depth below id 1.
func chain(depth int) *fakeLister {
	f := &fakeLister{children: make(map[int64][]model.Comment)}
	for i := int64(1); i <= int64(depth); i++ {
		parent := i
		f.children[parent] = []model.Comment{comment(i+1, &parent)}
	}
	return f
}

func TestMaterializeDepthBound(t *testing.T) {
	f := chain(8)
	m := NewMaterializer(f)

	node, err := m.Materialize(context.Background(), comment(1, nil), store.OrderCreatedDesc, 5)
	require.NoError(t, err)

	depth := 0
	cur := node
	for len(cur.Children) > 0 {
		require.Len(t, cur.Children, 1)
		cur = cur.Children[0]
		depth++
	}
	// Node at the bound is present with empty children even though the
	// store holds deeper replies.
	assert.Equal(t, 5, depth)
	assert.Equal(t, int64(6), cur.Comment.ID)
	assert.NotNil(t, cur.Children)
	assert.Empty(t, cur.Children)
}

func TestMaterializeDefaultDepth(t *testing.T) {
	f := chain(10)
	m := NewMaterializer(f)

	node, err := m.Materialize(context.Background(), comment(1, nil), store.OrderCreatedDesc, 0)
	require.NoError(t, err)

	depth := 0
	for cur := node; len(cur.Children) > 0; cur = cur.Children[0] {
		depth++
	}
	assert.Equal(t, DefaultMaxDepth, depth)
}

func TestMaterializePreservesLevelOrder(t *testing.T) {
	root := comment(1, nil)
	p := root.ID
	f := &fakeLister{children: map[int64][]model.Comment{
		1: {comment(4, &p), comment(2, &p), comment(3, &p)},
	}}
	m := NewMaterializer(f)

	node, err := m.Materialize(context.Background(), root, store.OrderAuthorName, 5)
	require.NoError(t, err)

	// Children come back exactly as the store ordered them.
	require.Len(t, node.Children, 3)
	assert.Equal(t, int64(4), node.Children[0].Comment.ID)
	assert.Equal(t, int64(2), node.Children[1].Comment.ID)
	assert.Equal(t, int64(3), node.Children[2].Comment.ID)

	// The requested ordering is forwarded to every level's fetch.
	for _, order := range f.orders {
		assert.Equal(t, store.OrderAuthorName, order)
	}
}

func TestMaterializeLeafHasEmptyChildren(t *testing.T) {
	f := &fakeLister{children: map[int64][]model.Comment{}}
	m := NewMaterializer(f)

	node, err := m.Materialize(context.Background(), comment(1, nil), store.OrderCreatedDesc, 5)
	require.NoError(t, err)
	assert.NotNil(t, node.Children)
	assert.Empty(t, node.Children)
}

func TestMaterializeAll(t *testing.T) {
	f := &fakeLister{children: map[int64][]model.Comment{}}
	m := NewMaterializer(f)

	roots := []model.Comment{comment(1, nil), comment(2, nil)}
	nodes, err := m.MaterializeAll(context.Background(), roots, store.OrderCreatedDesc, 5)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, int64(1), nodes[0].Comment.ID)
	assert.Equal(t, int64(2), nodes[1].Comment.ID)
}
