package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"caption-scheduler/internal/apperr"
	"caption-scheduler/internal/model"
)

// parseQuotas reads "budget=2,mid=1" into per-tier quotas, or "total=N" into a
// total that the account's segment distributes.
func parseQuotas(v string) (map[string]int, int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, 0, fmt.Errorf("--quotas must be provided")
	}
	quotas := make(map[string]int)
	total := 0
	for _, part := range strings.Split(v, ",") {
		name, raw, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, 0, fmt.Errorf("invalid quota %q: want tier=count", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			return nil, 0, fmt.Errorf("invalid quota count %q for %s", raw, name)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "total" {
			total = n
			continue
		}
		quotas[model.NormalizeTier(name)] += n
	}
	if total > 0 && len(quotas) > 0 {
		return nil, 0, fmt.Errorf("--quotas: total cannot be combined with per-tier counts")
	}
	if total == 0 && len(quotas) == 0 {
		return nil, 0, fmt.Errorf("--quotas requests no slots")
	}
	return quotas, total, nil
}

func parseHours(v string) ([]int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	seen := make(map[int]bool)
	var hours []int
	for _, part := range strings.Split(v, ",") {
		h, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid slot hour %q", part)
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		hours = append(hours, h)
	}
	return hours, nil
}

// parseDate reads YYYY-MM-DD as a UTC day. Empty means zero, which callers
// treat as today.
func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	day, err := time.ParseInLocation("2006-01-02", v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", v)
	}
	return day, nil
}

type errorReport struct {
	ErrorKind string `json:"error_kind"`
	Account   string `json:"account,omitempty"`
	Slot      string `json:"slot,omitempty"`
	Message   string `json:"message"`
}

// errorLine renders err as a single JSON object and returns its exit code.
func errorLine(err error) (string, int) {
	kind := apperr.KindOf(err)
	report := errorReport{ErrorKind: string(kind), Message: err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		report.Account = ae.Account
		report.Slot = ae.Slot
	}
	raw, mErr := json.Marshal(report)
	if mErr != nil {
		return fmt.Sprintf(`{"error_kind":%q,"message":%q}`, kind, err.Error()), kind.ExitCode()
	}
	return string(raw), kind.ExitCode()
}
