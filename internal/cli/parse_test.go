package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caption-scheduler/internal/apperr"
)

func TestParseQuotas(t *testing.T) {
	quotas, total, err := parseQuotas("Budget=2, mid=1,budget=1")
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, map[string]int{"budget": 3, "mid": 1}, quotas)

	quotas, total, err = parseQuotas("total=5")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, quotas)
}

func TestParseQuotasRejects(t *testing.T) {
	for _, in := range []string{"", "budget", "budget=x", "mid=-1", "total=2,mid=1", "total=0"} {
		_, _, err := parseQuotas(in)
		assert.Error(t, err, in)
	}
}

func TestParseHours(t *testing.T) {
	hours, err := parseHours("20, 9,9,12")
	require.NoError(t, err)
	assert.Equal(t, []int{20, 9, 12}, hours)

	hours, err = parseHours("")
	require.NoError(t, err)
	assert.Nil(t, hours)

	_, err = parseHours("24")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	day, err := parseDate("2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), day)

	day, err = parseDate("")
	require.NoError(t, err)
	assert.True(t, day.IsZero())

	_, err = parseDate("14/03/2026")
	assert.Error(t, err)
}

func TestErrorLineCarriesKindAndSlot(t *testing.T) {
	err := fmt.Errorf("run: %w", errors.Join(
		apperr.Newf(apperr.PoolExhausted, "acct", "2026-03-14@09", "no budget candidates left"),
	))
	line, code := errorLine(err)
	assert.Equal(t, 3, code)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(line), &got))
	assert.Equal(t, "PoolExhausted", got["error_kind"])
	assert.Equal(t, "acct", got["account"])
	assert.Equal(t, "2026-03-14@09", got["slot"])
	assert.Contains(t, got["message"], "no budget candidates left")
}

func TestErrorLinePlainError(t *testing.T) {
	line, code := errorLine(errors.New("boom"))
	assert.Equal(t, 1, code)
	assert.JSONEq(t, `{"error_kind":"Internal","message":"boom"}`, line)
}
