// Package timerange extracts the two comparison periods a temporal query
// refers to, bounded by the dates actually present in the corpus. The
// comparison path always gets two non-degenerate ranges: when the model
// declines or fails, the observed span is split at its midpoint.
package timerange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/serpscope/serpscope/internal/llm"
	"github.com/serpscope/serpscope/internal/store"
)

const dateLayout = "2006-01-02"

type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%s to %s", r.Start.Format(dateLayout), r.End.Format(dateLayout))
}

type Ranges struct {
	Earlier TimeRange
	Later   TimeRange
}

type Detector struct {
	provider     llm.Provider
	docs         store.Store
	guardRetries int
}

func NewDetector(provider llm.Provider, docs store.Store, guardRetries int) *Detector {
	return &Detector{provider: provider, docs: docs, guardRetries: guardRetries}
}

const detectPrompt = `Decide whether the query below contains an explicit or implied temporal
contrast between two periods.

Data is available from %s to %s. Both ranges must stay within that span.

Interpretation cues:
- "since the update" or similar pivot language: roughly 30 days either side of the inferred pivot date
- "trend" / "over time": the earliest 30%% of the span versus the latest 30%%
- explicit dates: use them verbatim

Query: %s`

type rangesResponse struct {
	HasContrast  bool   `json:"hasContrast"`
	EarlierStart string `json:"earlierStart"`
	EarlierEnd   string `json:"earlierEnd"`
	LaterStart   string `json:"laterStart"`
	LaterEnd     string `json:"laterEnd"`
}

var rangesSchema = llm.JSONSchema[rangesResponse](`{"hasContrast": bool, "earlierStart": "YYYY-MM-DD", "earlierEnd": "YYYY-MM-DD", "laterStart": "YYYY-MM-DD", "laterEnd": "YYYY-MM-DD"}
When hasContrast is false the date fields may be empty strings.`)

// Detect returns the two comparison periods for the query.
func (d *Detector) Detect(ctx context.Context, query string) Ranges {
	min, max, ok, err := d.docs.DateRange(ctx)
	if err != nil {
		slog.Warn("store date range lookup failed", "error", err)
		ok = false
	}
	if !ok {
		min = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		max = time.Now().UTC().Truncate(24 * time.Hour)
	}

	messages := []llm.Message{
		llm.UserMessage(fmt.Sprintf(detectPrompt, min.Format(dateLayout), max.Format(dateLayout), query)),
	}
	resp, _, err := llm.CompleteStructured(ctx, d.provider, messages, rangesSchema, d.guardRetries)
	if err != nil || !resp.HasContrast {
		if err != nil {
			slog.Warn("time range detection failed, using midpoint split", "error", err)
		}
		return midpointSplit(min, max)
	}

	earlier, errE := parseRange(resp.EarlierStart, resp.EarlierEnd)
	later, errL := parseRange(resp.LaterStart, resp.LaterEnd)
	if errE != nil || errL != nil {
		slog.Warn("model emitted unparseable ranges, using midpoint split",
			"earlier", errE, "later", errL)
		return midpointSplit(min, max)
	}

	return Ranges{
		Earlier: clamp(earlier, min, max),
		Later:   clamp(later, min, max),
	}
}

func parseRange(start, end string) (TimeRange, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return TimeRange{}, err
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return TimeRange{}, err
	}
	if e.Before(s) {
		return TimeRange{}, fmt.Errorf("range end %s before start %s", end, start)
	}
	return TimeRange{Start: s, End: e}, nil
}

func clamp(r TimeRange, min, max time.Time) TimeRange {
	if r.Start.Before(min) {
		r.Start = min
	}
	if r.End.After(max) {
		r.End = max
	}
	if r.End.Before(r.Start) {
		r.End = r.Start
	}
	return r
}

func midpointSplit(min, max time.Time) Ranges {
	mid := min.Add(max.Sub(min) / 2)
	return Ranges{
		Earlier: TimeRange{Start: min, End: mid},
		Later:   TimeRange{Start: mid, End: max},
	}
}
