package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	_ CommentStore   = (*InMemoryCommentStore)(nil)
	_ CommentStore   = (*PostgresCommentStore)(nil)
	_ AnchoredPurger = (*PostgresCommentStore)(nil)
)

func strPtr(s string) *string { return &s }

func mustInsert(t *testing.T, s *InMemoryCommentStore, c Comment) Comment {
	t.Helper()
	out, err := s.Insert(context.Background(), c)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return out
}

func TestInMemoryCommentStore_InsertTopLevel(t *testing.T) {
	s := NewInMemoryCommentStore()
	c := mustInsert(t, s, Comment{ContentID: "novel-1", ContentOwnerID: "owner", AuthorID: "user-a", Text: "hello"})

	if c.ID == "" {
		t.Fatal("expected non-empty id")
	}
	if c.IsReply || c.ParentID != nil {
		t.Fatal("expected top-level comment")
	}
	if c.RootID != c.ID {
		t.Fatalf("expected root id %s, got %s", c.ID, c.RootID)
	}
	if c.Children == nil || len(c.Children) != 0 {
		t.Fatalf("expected empty children, got %v", c.Children)
	}
	if c.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
}

func TestInMemoryCommentStore_InsertReplyAppendsChild(t *testing.T) {
	s := NewInMemoryCommentStore()
	ctx := context.Background()
	root := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "user-a", Text: "root"})
	reply := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "user-b", Text: "reply", ParentID: strPtr(root.ID)})
	nested := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "user-c", Text: "nested", ParentID: strPtr(reply.ID)})

	if !reply.IsReply {
		t.Fatal("expected reply flag")
	}
	if nested.RootID != root.ID {
		t.Fatalf("expected nested root %s, got %s", root.ID, nested.RootID)
	}

	got, err := s.Get(ctx, root.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Children) != 1 || got.Children[0] != reply.ID {
		t.Fatalf("expected children [%s], got %v", reply.ID, got.Children)
	}
}

func TestInMemoryCommentStore_InsertValidation(t *testing.T) {
	s := NewInMemoryCommentStore()
	ctx := context.Background()

	cases := []struct {
		name string
		c    Comment
		want error
	}{
		{"empty text", Comment{ContentID: "n", AuthorID: "u", Text: "   "}, ErrInvalidArgument},
		{"missing content", Comment{AuthorID: "u", Text: "x"}, ErrInvalidArgument},
		{"missing author", Comment{ContentID: "n", Text: "x"}, ErrInvalidArgument},
		{"unknown parent", Comment{ContentID: "n", AuthorID: "u", Text: "x", ParentID: strPtr("ghost")}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Insert(ctx, tc.c); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestInMemoryCommentStore_ParentFromOtherContentRejected(t *testing.T) {
	s := NewInMemoryCommentStore()
	root := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "u", Text: "root"})

	_, err := s.Insert(context.Background(), Comment{ContentID: "novel-2", AuthorID: "u", Text: "x", ParentID: strPtr(root.ID)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestInMemoryCommentStore_ListTopLevelPagination(t *testing.T) {
	s := NewInMemoryCommentStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base } // identical clock exercises the tie-break

	var ids []string
	for i := 0; i < 12; i++ {
		c := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "u", Text: "c"})
		ids = append(ids, c.ID)
	}
	mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "u", Text: "reply", ParentID: strPtr(ids[0])})

	seen := make(map[string]bool)
	var last time.Time
	for skip := 0; skip < 15; skip += 5 {
		page, err := s.ListTopLevel(ctx, "novel-1", skip, 5)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, c := range page {
			if c.IsReply {
				t.Fatal("top-level listing returned a reply")
			}
			if seen[c.ID] {
				t.Fatalf("comment %s appeared on two pages", c.ID)
			}
			if !last.IsZero() && !c.CreatedAt.Before(last) {
				t.Fatal("expected strictly descending created_at across pages")
			}
			last = c.CreatedAt
			seen[c.ID] = true
		}
	}
	if len(seen) != 12 {
		t.Fatalf("expected 12 comments across pages, got %d", len(seen))
	}

	first, _ := s.ListTopLevel(ctx, "novel-1", 0, 0)
	if len(first) != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, len(first))
	}
	if first[0].ID != ids[11] {
		t.Fatalf("expected newest comment first")
	}
}

func TestInMemoryCommentStore_ListChildren(t *testing.T) {
	s := NewInMemoryCommentStore()
	ctx := context.Background()
	root := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "u", Text: "root"})
	r1 := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "u", Text: "r1", ParentID: strPtr(root.ID)})
	r2 := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "u", Text: "r2", ParentID: strPtr(root.ID)})
	mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "u", Text: "grandchild", ParentID: strPtr(r1.ID)})

	kids, err := s.ListChildren(ctx, root.ID, 0, 10)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(kids) != 2 {
		t.Fatalf("expected 2 direct children, got %d", len(kids))
	}
	if kids[0].ID != r2.ID || kids[1].ID != r1.ID {
		t.Fatal("expected newest reply first")
	}

	if _, err := s.ListChildren(ctx, "ghost", 0, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryCommentStore_DeleteSubtreePostOrder(t *testing.T) {
	s := NewInMemoryCommentStore()
	ctx := context.Background()
	root := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "a", Text: "root"})
	child := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "b", Text: "child", ParentID: strPtr(root.ID)})
	grand := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "c", Text: "grand", ParentID: strPtr(child.ID)})
	other := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "d", Text: "other"})

	var visited []string
	removed, err := s.DeleteSubtree(ctx, root.ID, func(r Removed) {
		// The node is still present while the hook runs.
		if _, ok := s.comments[r.ID]; !ok {
			t.Errorf("node %s already removed before hook", r.ID)
		}
		visited = append(visited, r.ID)
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(removed) != 3 {
		t.Fatalf("expected 3 removed, got %d", len(removed))
	}
	want := []string{grand.ID, child.ID, root.ID}
	for i, id := range want {
		if visited[i] != id {
			t.Fatalf("expected post-order %v, got %v", want, visited)
		}
	}
	top := 0
	for _, r := range removed {
		if r.TopLevel {
			top++
		}
	}
	if top != 1 {
		t.Fatalf("expected 1 top-level removal, got %d", top)
	}

	if _, err := s.Get(ctx, other.ID); err != nil {
		t.Fatalf("unrelated comment removed: %v", err)
	}
	total, topLevel, _ := s.CountByContent(ctx, "novel-1")
	if total != 1 || topLevel != 1 {
		t.Fatalf("expected 1/1 remaining, got %d/%d", total, topLevel)
	}
}

func TestInMemoryCommentStore_DeleteReplyUnlinksParent(t *testing.T) {
	s := NewInMemoryCommentStore()
	ctx := context.Background()
	root := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "a", Text: "root"})
	reply := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "b", Text: "reply", ParentID: strPtr(root.ID)})

	if _, err := s.DeleteSubtree(ctx, reply.ID, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := s.Get(ctx, root.ID)
	if len(got.Children) != 0 {
		t.Fatalf("expected parent children emptied, got %v", got.Children)
	}
}

func TestInMemoryCommentStore_DeleteMissingAndTombstone(t *testing.T) {
	s := NewInMemoryCommentStore()
	ctx := context.Background()
	c := mustInsert(t, s, Comment{ContentID: "novel-1", ContentOwnerID: "owner", AuthorID: "a", Text: "x"})

	if _, err := s.DeleteSubtree(ctx, c.ID, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	again, err := s.DeleteSubtree(ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty result, got %d", len(again))
	}

	tomb, ok, err := s.WasDeleted(ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("expected tombstone, ok=%v err=%v", ok, err)
	}
	if tomb.AuthorID != "a" || tomb.ContentOwnerID != "owner" {
		t.Fatalf("unexpected tombstone %+v", tomb)
	}
	if _, ok, _ := s.WasDeleted(ctx, "never-existed"); ok {
		t.Fatal("expected no tombstone for unknown id")
	}
}

func TestInMemoryCommentStore_DeleteByContent(t *testing.T) {
	s := NewInMemoryCommentStore()
	ctx := context.Background()
	root := mustInsert(t, s, Comment{ContentID: "ep-1", AuthorID: "a", Text: "root"})
	mustInsert(t, s, Comment{ContentID: "ep-1", AuthorID: "b", Text: "reply", ParentID: strPtr(root.ID)})
	keep := mustInsert(t, s, Comment{ContentID: "ep-2", AuthorID: "a", Text: "elsewhere"})

	ids, err := s.DeleteByContent(ctx, "ep-1")
	if err != nil {
		t.Fatalf("delete by content: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	if _, err := s.Get(ctx, keep.ID); err != nil {
		t.Fatalf("comment on other content removed: %v", err)
	}
}

func TestInMemoryCommentStore_ReturnedCopiesAreIsolated(t *testing.T) {
	s := NewInMemoryCommentStore()
	ctx := context.Background()
	root := mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "a", Text: "root"})
	mustInsert(t, s, Comment{ContentID: "novel-1", AuthorID: "b", Text: "reply", ParentID: strPtr(root.ID)})

	got, _ := s.Get(ctx, root.ID)
	got.Children[0] = "tampered"

	again, _ := s.Get(ctx, root.ID)
	if again.Children[0] == "tampered" {
		t.Fatal("store state mutated through returned slice")
	}
}

func TestNormalizePage(t *testing.T) {
	skip, limit := NormalizePage(-3, 0)
	if skip != 0 || limit != DefaultPageSize {
		t.Fatalf("expected 0/%d, got %d/%d", DefaultPageSize, skip, limit)
	}
	if _, limit := NormalizePage(0, 1000); limit != MaxPageSize {
		t.Fatalf("expected limit capped at %d, got %d", MaxPageSize, limit)
	}
}

func TestCoversSubtree(t *testing.T) {
	root := "a"
	nodes := map[string]subtreeNode{
		"a": {id: "a"},
		"b": {id: "b", parentID: &root},
	}

	if !coversSubtree(map[string]bool{"a": true, "b": true, "z": true}, nodes) {
		t.Fatal("expected full lock set to cover the subtree")
	}
	// A reply attached after the thread was locked is not covered.
	if coversSubtree(map[string]bool{"a": true}, nodes) {
		t.Fatal("expected missing child to fail coverage")
	}
}

func TestPostOrder_ChildrenBeforeParents(t *testing.T) {
	a, b := "a", "b"
	nodes := map[string]subtreeNode{
		"a": {id: "a", children: []string{"b"}},
		"b": {id: "b", parentID: &a, children: []string{"c"}},
		"c": {id: "c", parentID: &b},
		// linked by parent_id only
		"d": {id: "d", parentID: &a},
	}

	order := postOrder(nodes, "a")
	if len(order) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(order))
	}
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n.id] = i
	}
	for child, parent := range map[string]string{"b": "a", "c": "b", "d": "a"} {
		if pos[child] > pos[parent] {
			t.Fatalf("expected %s before %s, got order %v", child, parent, pos)
		}
	}
	if order[len(order)-1].id != "a" {
		t.Fatalf("expected root last, got %s", order[len(order)-1].id)
	}
}
