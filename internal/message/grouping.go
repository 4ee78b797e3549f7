package message

import (
	"sort"
	"time"

	"chatcore/internal/models"
)

// DayGroup is the set of messages sent on one calendar day
type DayGroup struct {
	Day      time.Time
	Messages []*models.Message
}

// GroupByDay buckets messages by calendar day in loc. Buckets are ascending
// by date and messages inside a bucket keep the store order. The input is
// not modified.
func GroupByDay(messages []*models.Message, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	sorted := make([]*models.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool { return models.Less(sorted[i], sorted[j]) })

	var groups []DayGroup
	for _, msg := range sorted {
		t := msg.CreatedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, msg)
			continue
		}
		groups = append(groups, DayGroup{Day: day, Messages: []*models.Message{msg}})
	}
	return groups
}
