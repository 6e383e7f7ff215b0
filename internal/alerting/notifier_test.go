package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caption-scheduler/internal/candidate"
	"caption-scheduler/internal/fatigue"
	"caption-scheduler/internal/model"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Kind: KindFatigue, Account: "acct", At: time.Now(), Title: "t", Fields: []Field{{Label: "Score", Value: "0.61"}}}

	require.NoError(t, notifier.Notify(context.Background(), note))
	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "Account: acct")
	assert.Contains(t, received["text"], "Score: 0.61")
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	assert.Error(t, notifier.Notify(context.Background(), Notification{Title: "t"}))
}

type recordingNotifier struct {
	notes []Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	if r.err != nil {
		return r.err
	}
	r.notes = append(r.notes, n)
	return nil
}

func TestDispatcherCooldownPerAccount(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, time.Hour, testLogger())
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	scan := fatigue.Scan{AccountID: "a", Risk: fatigue.RiskHigh, Score: 0.7, Indicators: []string{fatigue.IndicatorUnlockDrop}}
	require.NoError(t, d.FatigueRisk(context.Background(), scan))
	require.NoError(t, d.FatigueRisk(context.Background(), scan))
	scan.AccountID = "b"
	require.NoError(t, d.FatigueRisk(context.Background(), scan))
	assert.Len(t, rec.notes, 2)

	now = now.Add(2 * time.Hour)
	scan.AccountID = "a"
	require.NoError(t, d.FatigueRisk(context.Background(), scan))
	assert.Len(t, rec.notes, 3)
	assert.Equal(t, KindFatigue, rec.notes[2].Kind)
}

func TestDispatcherRestrictionHealth(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, 0, testLogger())

	rep := candidate.HealthReport{RunID: "run", Account: "a", Scope: model.ScopeA, Before: 10, After: 1, TopRules: []string{"category=solo"}}
	require.NoError(t, d.RestrictionHealth(context.Background(), rep))
	require.Len(t, rec.notes, 1)
	assert.Equal(t, KindRestriction, rec.notes[0].Kind)
	assert.Contains(t, renderMessage(rec.notes[0]), "10 -> 1 (90% removed)")
}

func TestDispatcherRetriesAfterFailure(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("down")}
	d := NewDispatcher(rec, time.Hour, testLogger())
	scan := fatigue.Scan{AccountID: "a", Risk: fatigue.RiskHigh}

	assert.Error(t, d.FatigueRisk(context.Background(), scan))
	rec.err = nil
	require.NoError(t, d.FatigueRisk(context.Background(), scan))
	assert.Len(t, rec.notes, 1)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
