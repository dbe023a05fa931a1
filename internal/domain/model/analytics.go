package model

import (
	"sort"
	"time"
)

const (
	GlobalAnalyticsID = "global"
	dayLayout         = "2006-01-02"
)

// EditOutcome is the statistics-relevant projection of a terminal job.
type EditOutcome struct {
	Success           bool
	EditType          EditType
	AspectRatio       AspectRatio
	OutputFormat      OutputFormat
	ProcessingSeconds *float64
	At                time.Time
}

// OutcomeOf projects a terminal job. CANCELLED counts as not successful.
func OutcomeOf(j *EditJob) EditOutcome {
	o := EditOutcome{
		Success:      j.Status == EditStatusCompleted,
		EditType:     j.EditType,
		AspectRatio:  j.AspectRatio,
		OutputFormat: j.OutputFormat,
		At:           j.UpdatedAt,
	}
	if j.CompletedAt != nil {
		o.At = *j.CompletedAt
	}
	if secs, ok := j.ProcessingSeconds(); ok {
		o.ProcessingSeconds = &secs
	}
	return o
}

// GlobalAnalytics is the single process-wide aggregate record.
// Version is bumped by storage on every successful write.
type GlobalAnalytics struct {
	ID                   string               `json:"id"`
	Version              int64                `json:"version"`
	TotalUsers           int                  `json:"total_users"`
	TotalEdits           int                  `json:"total_edits"`
	SuccessfulEdits      int                  `json:"successful_edits"`
	FailedEdits          int                  `json:"failed_edits"`
	AvgProcessingSeconds float64              `json:"avg_processing_seconds"`
	ProcessingSamples    int                  `json:"processing_samples"`
	EditTypes            map[EditType]int     `json:"edit_types"`
	AspectRatios         map[AspectRatio]int  `json:"aspect_ratios"`
	OutputFormats        map[OutputFormat]int `json:"output_formats"`
	Daily                []DailyStats         `json:"daily"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// DailyStats is the rollup for one calendar day (UTC).
type DailyStats struct {
	Date                 string           `json:"date"`
	NewUsers             int              `json:"new_users"`
	TotalEdits           int              `json:"total_edits"`
	SuccessfulEdits      int              `json:"successful_edits"`
	FailedEdits          int              `json:"failed_edits"`
	AvgProcessingSeconds float64          `json:"avg_processing_seconds"`
	ProcessingSamples    int              `json:"processing_samples"`
	EditTypes            map[EditType]int `json:"edit_types"`
}

func NewGlobalAnalytics(now time.Time) *GlobalAnalytics {
	a := &GlobalAnalytics{ID: GlobalAnalyticsID, CreatedAt: now, UpdatedAt: now}
	a.ensureMaps()
	return a
}

func (a *GlobalAnalytics) ensureMaps() {
	if a.EditTypes == nil {
		a.EditTypes = map[EditType]int{}
	}
	if a.AspectRatios == nil {
		a.AspectRatios = map[AspectRatio]int{}
	}
	if a.OutputFormats == nil {
		a.OutputFormats = map[OutputFormat]int{}
	}
}

// Record folds one job outcome into the aggregate and today's rollup.
func (a *GlobalAnalytics) Record(o EditOutcome, newUser bool) {
	a.ensureMaps()
	a.TotalEdits++
	if o.Success {
		a.SuccessfulEdits++
	} else {
		a.FailedEdits++
	}
	if o.ProcessingSeconds != nil {
		a.ProcessingSamples++
		a.AvgProcessingSeconds = runningAvg(a.AvgProcessingSeconds, a.ProcessingSamples, *o.ProcessingSeconds)
	}
	if o.EditType != "" {
		a.EditTypes[o.EditType]++
	}
	if o.AspectRatio != "" {
		a.AspectRatios[o.AspectRatio]++
	}
	if o.OutputFormat != "" {
		a.OutputFormats[o.OutputFormat]++
	}
	if newUser {
		a.TotalUsers++
	}

	day := a.day(o.At)
	day.TotalEdits++
	if o.Success {
		day.SuccessfulEdits++
	} else {
		day.FailedEdits++
	}
	if o.ProcessingSeconds != nil {
		day.ProcessingSamples++
		day.AvgProcessingSeconds = runningAvg(day.AvgProcessingSeconds, day.ProcessingSamples, *o.ProcessingSeconds)
	}
	if o.EditType != "" {
		if day.EditTypes == nil {
			day.EditTypes = map[EditType]int{}
		}
		day.EditTypes[o.EditType]++
	}
	if newUser {
		day.NewUsers++
	}
	a.UpdatedAt = o.At
}

// RecordNewUser counts a user who has not produced an edit yet.
func (a *GlobalAnalytics) RecordNewUser(at time.Time) {
	a.TotalUsers++
	a.day(at).NewUsers++
	a.UpdatedAt = at
}

// day returns today's rollup, creating it in date order when missing.
func (a *GlobalAnalytics) day(at time.Time) *DailyStats {
	key := at.UTC().Format(dayLayout)
	i := sort.Search(len(a.Daily), func(i int) bool { return a.Daily[i].Date >= key })
	if i < len(a.Daily) && a.Daily[i].Date == key {
		return &a.Daily[i]
	}
	a.Daily = append(a.Daily, DailyStats{})
	copy(a.Daily[i+1:], a.Daily[i:])
	a.Daily[i] = DailyStats{Date: key, EditTypes: map[EditType]int{}}
	return &a.Daily[i]
}

func (a *GlobalAnalytics) SuccessRate() float64 {
	if a.TotalEdits == 0 {
		return 0
	}
	return float64(a.SuccessfulEdits) / float64(a.TotalEdits) * 100
}

func (d DailyStats) SuccessRate() float64 {
	if d.TotalEdits == 0 {
		return 0
	}
	return float64(d.SuccessfulEdits) / float64(d.TotalEdits) * 100
}

// RecentDays returns up to `days` rollups ending at `now`, newest first.
func (a *GlobalAnalytics) RecentDays(days int, now time.Time) []DailyStats {
	if days <= 0 {
		return nil
	}
	oldest := now.UTC().AddDate(0, 0, -(days - 1)).Format(dayLayout)
	out := make([]DailyStats, 0, days)
	for i := len(a.Daily) - 1; i >= 0 && len(out) < days; i-- {
		if a.Daily[i].Date < oldest {
			break
		}
		out = append(out, a.Daily[i])
	}
	return out
}

type EditTypeCount struct {
	Type  EditType `json:"edit_type"`
	Count int      `json:"count"`
}

func (a *GlobalAnalytics) TopEditTypes(limit int) []EditTypeCount {
	return topEditTypes(a.EditTypes, limit)
}

func topEditTypes(m map[EditType]int, limit int) []EditTypeCount {
	out := make([]EditTypeCount, 0, len(m))
	for t, c := range m {
		if c > 0 {
			out = append(out, EditTypeCount{Type: t, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func runningAvg(old float64, n int, sample float64) float64 {
	if n <= 1 {
		return sample
	}
	return (old*float64(n-1) + sample) / float64(n)
}
