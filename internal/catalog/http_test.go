package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caption-scheduler/internal/model"
)

func TestListItemsFollowsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, itemsPath, r.URL.Path)
		assert.Equal(t, "A", r.URL.Query().Get("scope"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("cursor") {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"id": 1, "text": "good morning", "category": "tease", "price_tier": "budget", "scope": "a", "active": true},
				},
				"next_cursor": "p2",
			})
		case "p2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"id": 2, "text": "late night", "category": "solo", "price_tier": "premium", "scope": "A", "active": false, "deleted": true},
				},
			})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/", Token: "secret", Timeout: time.Second}, zerolog.Nop())
	items, err := c.ListItems(context.Background(), model.ScopeA)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, model.ScopeA, items[0].Scope)
	assert.Equal(t, "budget", items[0].Tier())
	assert.True(t, items[1].Deleted)
	assert.False(t, items[1].Active)
}

func TestListItemsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "maintenance"})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL}, zerolog.Nop())
	_, err := c.ListItems(context.Background(), model.ScopeA)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestListItemsRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Options{}, zerolog.Nop()).ListItems(context.Background(), model.ScopeA)
	assert.Error(t, err)
}

func TestListItemsHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewClient(Options{BaseURL: srv.URL}, zerolog.Nop()).ListItems(ctx, model.ScopeA)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
