package interpret

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"statusline/internal/domain"
)

var errNotObject = errors.New("scorer output is not a JSON object")

var canonicalStatuses = map[string]string{
	"done":        domain.StatusDone,
	"complete":    domain.StatusDone,
	"completed":   domain.StatusDone,
	"blocked":     domain.StatusBlocked,
	"in progress": domain.StatusInProgress,
	"not started": domain.StatusNotStarted,
}

// ParseDecision reads the scorer's record. Absent or null fields stay unset and
// confidence defaults to 0; only output that is not a JSON object is an error.
func ParseDecision(raw []byte, candidates []domain.Candidate) (domain.Decision, error) {
	text := stripCodeFence(strings.TrimSpace(string(raw)))
	if !gjson.Valid(text) {
		return domain.Decision{}, errNotObject
	}
	res := gjson.Parse(text)
	if !res.IsObject() {
		return domain.Decision{}, errNotObject
	}

	var d domain.Decision
	d.Confidence = clampFloat(floatField(res.Get("confidence")), 0, 1)
	if id := stringField(res.Get("task_id")); id != nil {
		d.SelectedTaskID = resolveTaskID(*id, candidates)
	}
	if s := stringField(res.Get("status")); s != nil {
		status := normalizeStatus(*s)
		d.Status = &status
	}
	if p := intField(res.Get("progress")); p != nil {
		v := clampInt(*p, 0, 100)
		d.Progress = &v
	}
	if b := stringField(res.Get("blocker")); b != nil {
		v := domain.TruncateText(*b, domain.MaxTextLength)
		d.Blocker = &v
	}
	d.NeedsAttention = boolField(res.Get("needs_attention"))
	d.Followup = stringField(res.Get("followup"))
	return d, nil
}

// stripCodeFence unwraps ```json ... ``` blocks some models emit despite instructions.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func resolveTaskID(id string, candidates []domain.Candidate) *string {
	for _, c := range candidates {
		if c.Task.ID == id {
			v := c.Task.ID
			return &v
		}
	}
	for _, c := range candidates {
		if strings.EqualFold(c.Label, id) {
			v := c.Task.ID
			return &v
		}
	}
	return nil
}

func normalizeStatus(s string) string {
	key := strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(s))
	if canonical, ok := canonicalStatuses[strings.Join(strings.Fields(key), " ")]; ok {
		return canonical
	}
	return s
}

func stringField(r gjson.Result) *string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	if r.Type != gjson.String && r.Type != gjson.Number {
		return nil
	}
	s := strings.TrimSpace(r.String())
	if s == "" {
		return nil
	}
	return &s
}

func intField(r gjson.Result) *int {
	switch r.Type {
	case gjson.Number:
		if math.IsNaN(r.Float()) || math.IsInf(r.Float(), 0) {
			return nil
		}
		v := int(math.Round(r.Float()))
		return &v
	case gjson.String:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(r.Str), "%"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		v := int(math.Round(f))
		return &v
	}
	return nil
}

func floatField(r gjson.Result) float64 {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Float()
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0
		}
		f = v
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func boolField(r gjson.Result) *bool {
	switch r.Type {
	case gjson.True, gjson.False:
		v := r.Bool()
		return &v
	case gjson.String:
		v, err := strconv.ParseBool(strings.TrimSpace(r.Str))
		if err != nil {
			return nil
		}
		return &v
	}
	return nil
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
