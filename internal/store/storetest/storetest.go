// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"claudechat-backend/internal/models"
	"claudechat-backend/internal/store"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// Factory returns a fresh, migrated, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("AppendOrdering", func(t *testing.T) { testAppendOrdering(t, newStore(t)) })
	t.Run("AppendRejects", func(t *testing.T) { testAppendRejects(t, newStore(t)) })
	t.Run("ListMessagesLimit", func(t *testing.T) { testListMessagesLimit(t, newStore(t)) })
	t.Run("ListOrder", func(t *testing.T) { testListOrder(t, newStore(t)) })
	t.Run("Search", func(t *testing.T) { testSearch(t, newStore(t)) })
	t.Run("UpdateTitle", func(t *testing.T) { testUpdateTitle(t, newStore(t)) })
	t.Run("DeleteCascade", func(t *testing.T) { testDeleteCascade(t, newStore(t)) })
	t.Run("LongTemperatureText", func(t *testing.T) { testLongTemperatureText(t, newStore(t)) })
}

// tick keeps consecutive writes on distinct microsecond timestamps so
// ordering assertions do not depend on id tie-breaks.
func tick() { time.Sleep(2 * time.Millisecond) }

func appendTurn(t *testing.T, s store.Store, convID string, role models.Role, content string) *models.Message {
	t.Helper()
	p := store.AppendMessageParams{
		ConversationID: convID,
		Role:           role,
		Content:        content,
		Temperature:    "0.1",
	}
	if role == models.RoleAssistant {
		model := "claude-sonnet-4-20250514"
		p.Model = &model
	}
	m, err := s.AppendMessage(context.Background(), p)
	if err != nil {
		t.Fatalf("AppendMessage(%q) error = %v; want nil", content, err)
	}
	return m
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "Trip planning")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}
	if c.ID == "" {
		t.Fatal("CreateConversation() returned empty id")
	}
	if !c.CreatedAt.Equal(c.UpdatedAt) {
		t.Fatalf("created_at = %v, updated_at = %v; want equal", c.CreatedAt, c.UpdatedAt)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v; want nil", err)
	}
	if got.Title != "Trip planning" {
		t.Fatalf("title = %q; want %q", got.Title, "Trip planning")
	}
	if len(got.Messages) != 0 {
		t.Fatalf("messages = %d; want 0", len(got.Messages))
	}
	if !got.CreatedAt.Equal(c.CreatedAt) {
		t.Fatalf("stored created_at = %v; want %v", got.CreatedAt, c.CreatedAt)
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.GetConversation(context.Background(), "does-not-exist")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetConversation(missing) error = %v; want ErrNotFound", err)
	}
}

func testAppendOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, err := s.CreateConversation(ctx, "Ordering")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}

	const n = 6
	var last *models.Message
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		last = appendTurn(t, s, c.ID, role, fmt.Sprintf("message %d", i))
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v; want nil", err)
	}
	if len(got.Messages) != n {
		t.Fatalf("messages = %d; want %d", len(got.Messages), n)
	}
	for i, m := range got.Messages {
		if want := fmt.Sprintf("message %d", i); m.Content != want {
			t.Fatalf("messages[%d].Content = %q; want %q", i, m.Content, want)
		}
		if i > 0 && m.CreatedAt.Before(got.Messages[i-1].CreatedAt) {
			t.Fatalf("messages[%d] created before messages[%d]", i, i-1)
		}
	}
	if got.UpdatedAt.Before(last.CreatedAt) {
		t.Fatalf("updated_at = %v; want >= %v", got.UpdatedAt, last.CreatedAt)
	}

	user, assistant := got.Messages[0], got.Messages[1]
	if user.Model != nil {
		t.Fatalf("user message model = %q; want NULL", *user.Model)
	}
	if assistant.Model == nil || *assistant.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("assistant message model = %v; want claude-sonnet-4-20250514", assistant.Model)
	}
	if user.Temperature == nil || *user.Temperature != "0.1" {
		t.Fatalf("temperature = %v; want 0.1", user.Temperature)
	}
}

func testAppendRejects(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, store.AppendMessageParams{
		ConversationID: "missing",
		Role:           models.RoleUser,
		Content:        "hi",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("AppendMessage(missing conversation) error = %v; want ErrNotFound", err)
	}

	c, err := s.CreateConversation(ctx, "Roles")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}
	_, err = s.AppendMessage(ctx, store.AppendMessageParams{
		ConversationID: c.ID,
		Role:           models.Role("system"),
		Content:        "hi",
	})
	if !errors.Is(err, store.ErrInvalidRole) {
		t.Fatalf("AppendMessage(system) error = %v; want ErrInvalidRole", err)
	}
}

func testListMessagesLimit(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, err := s.CreateConversation(ctx, "Limit")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}
	for i := 0; i < 7; i++ {
		appendTurn(t, s, c.ID, models.RoleUser, fmt.Sprintf("m%d", i))
	}

	got, err := s.ListMessages(ctx, c.ID, 5)
	if err != nil {
		t.Fatalf("ListMessages() error = %v; want nil", err)
	}
	if len(got) != 5 {
		t.Fatalf("ListMessages(5) = %d messages; want 5", len(got))
	}
	if got[0].Content != "m0" || got[4].Content != "m4" {
		t.Fatalf("ListMessages(5) = %q..%q; want m0..m4", got[0].Content, got[4].Content)
	}

	all, err := s.ListMessages(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages(0) error = %v; want nil", err)
	}
	if len(all) != 7 {
		t.Fatalf("ListMessages(0) = %d messages; want 7", len(all))
	}
}

func testListOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	first, err := s.CreateConversation(ctx, "First")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}
	tick()
	second, err := s.CreateConversation(ctx, "Second")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}
	// Writing to the older conversation moves it to the front.
	tick()
	appendTurn(t, s, first.ID, models.RoleUser, "bump")

	list, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations() error = %v; want nil", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListConversations() = %d; want 2", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("ListConversations() order = [%s %s]; want [%s %s]", list[0].Title, list[1].Title, "First", "Second")
	}
}

func testSearch(t *testing.T, s store.Store) {
	ctx := context.Background()
	byTitle, err := s.CreateConversation(ctx, "Golang Generics")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}
	tick()
	byContent, err := s.CreateConversation(ctx, "Untitled")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}
	appendTurn(t, s, byContent.ID, models.RoleUser, "how do generics work in go?")
	appendTurn(t, s, byContent.ID, models.RoleAssistant, "Generics use type parameters.")
	if _, err := s.CreateConversation(ctx, "Cooking 100% rye"); err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}

	got, err := s.SearchConversations(ctx, "  GENERICS ")
	if err != nil {
		t.Fatalf("SearchConversations() error = %v; want nil", err)
	}
	if len(got) != 2 {
		t.Fatalf("SearchConversations(generics) = %d results; want 2", len(got))
	}
	seen := map[string]bool{}
	for _, c := range got {
		if seen[c.ID] {
			t.Fatalf("conversation %s returned twice", c.ID)
		}
		seen[c.ID] = true
	}
	if !seen[byTitle.ID] || !seen[byContent.ID] {
		t.Fatalf("SearchConversations(generics) missing expected conversations: %v", seen)
	}
	if got[0].ID != byContent.ID {
		t.Fatalf("SearchConversations() first = %s; want most recently updated", got[0].Title)
	}

	for _, q := range []string{"", " ", "g", " g "} {
		res, err := s.SearchConversations(ctx, q)
		if err != nil {
			t.Fatalf("SearchConversations(%q) error = %v; want nil", q, err)
		}
		if len(res) != 0 {
			t.Fatalf("SearchConversations(%q) = %d results; want 0", q, len(res))
		}
	}

	// Wildcards are literal.
	res, err := s.SearchConversations(ctx, "0%")
	if err != nil {
		t.Fatalf("SearchConversations(0%%) error = %v; want nil", err)
	}
	if len(res) != 1 || res[0].Title != "Cooking 100% rye" {
		t.Fatalf("SearchConversations(0%%) = %v; want only the rye conversation", res)
	}
	res, err = s.SearchConversations(ctx, "o_")
	if err != nil {
		t.Fatalf("SearchConversations(o_) error = %v; want nil", err)
	}
	if len(res) != 0 {
		t.Fatalf("SearchConversations(o_) = %d results; want 0", len(res))
	}
}

func testUpdateTitle(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, err := s.CreateConversation(ctx, "Old")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}
	if err := s.UpdateConversationTitle(ctx, c.ID, "New"); err != nil {
		t.Fatalf("UpdateConversationTitle() error = %v; want nil", err)
	}
	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v; want nil", err)
	}
	if got.Title != "New" {
		t.Fatalf("title = %q; want New", got.Title)
	}
	if got.UpdatedAt.Before(c.UpdatedAt) {
		t.Fatalf("updated_at went backwards: %v < %v", got.UpdatedAt, c.UpdatedAt)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) {
		t.Fatalf("created_at changed: %v != %v", got.CreatedAt, c.CreatedAt)
	}

	err = s.UpdateConversationTitle(ctx, "missing", "x")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("UpdateConversationTitle(missing) error = %v; want ErrNotFound", err)
	}
}

func testDeleteCascade(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, err := s.CreateConversation(ctx, "Doomed")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}
	keep, err := s.CreateConversation(ctx, "Survivor")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}
	appendTurn(t, s, c.ID, models.RoleUser, "hello")
	appendTurn(t, s, c.ID, models.RoleAssistant, "hi there")
	appendTurn(t, s, keep.ID, models.RoleUser, "still here")

	if err := s.DeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("DeleteConversation() error = %v; want nil", err)
	}
	if _, err := s.GetConversation(ctx, c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetConversation(deleted) error = %v; want ErrNotFound", err)
	}
	msgs, err := s.ListMessages(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages(deleted) error = %v; want nil", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("ListMessages(deleted) = %d; want 0", len(msgs))
	}
	if err := s.DeleteConversation(ctx, c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("DeleteConversation(again) error = %v; want ErrNotFound", err)
	}

	survivor, err := s.GetConversation(ctx, keep.ID)
	if err != nil {
		t.Fatalf("GetConversation(survivor) error = %v; want nil", err)
	}
	if len(survivor.Messages) != 1 {
		t.Fatalf("survivor messages = %d; want 1", len(survivor.Messages))
	}
}

// A slider value such as 0.1+0.6 has a long shortest decimal form.
func testLongTemperatureText(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, err := s.CreateConversation(ctx, "Sliders")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v; want nil", err)
	}
	const temp = "0.7000000000000001"
	if _, err := s.AppendMessage(ctx, store.AppendMessageParams{
		ConversationID: c.ID,
		Role:           models.RoleUser,
		Content:        "hi",
		Temperature:    temp,
	}); err != nil {
		t.Fatalf("AppendMessage(temperature %s) error = %v; want nil", temp, err)
	}
	msgs, err := s.ListMessages(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v; want nil", err)
	}
	if len(msgs) != 1 || msgs[0].Temperature == nil || *msgs[0].Temperature != temp {
		t.Fatalf("messages = %+v; want temperature %s kept verbatim", msgs, temp)
	}
}
