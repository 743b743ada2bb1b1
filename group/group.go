// Package group partitions messages into calendar periods.
package group

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arathald/mbox-to-pdf/model"
)

// Strategy selects the calendar period used for grouping.
type Strategy string

const (
	Month   Strategy = "month"
	Quarter Strategy = "quarter"
	Year    Strategy = "year"
)

// UnknownKey names the group of messages without a usable date.
const UnknownKey = "unknown-date"

var ErrInvalidStrategy = errors.New("invalid grouping strategy")

// Strategies lists the recognized strategies.
var Strategies = []Strategy{Month, Quarter, Year}

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case Month:
		return Month, nil
	case Quarter:
		return Quarter, nil
	case Year:
		return Year, nil
	}
	return "", fmt.Errorf("%w: %q (must be month, quarter or year)", ErrInvalidStrategy, s)
}

// Key derives the period key for t in t's own location.
func (s Strategy) Key(t time.Time) string {
	switch s {
	case Quarter:
		return fmt.Sprintf("%04d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	case Year:
		return fmt.Sprintf("%04d", t.Year())
	default:
		return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
	}
}

// Start returns the first instant of the period containing t.
func (s Strategy) Start(t time.Time) time.Time {
	switch s {
	case Quarter:
		first := time.Month((int(t.Month())-1)/3*3 + 1)
		return time.Date(t.Year(), first, 1, 0, 0, 0, 0, t.Location())
	case Year:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	}
}

// Partition assigns every message to exactly one group. Groups are ordered by
// period start with the unknown-date group last; messages inside a group are
// ordered by date, then by id.
func Partition(msgs []*model.Message, s Strategy) []model.Group {
	byKey := make(map[string]*model.Group)
	var unknown *model.Group

	for _, msg := range msgs {
		if !msg.DateKnown {
			if unknown == nil {
				unknown = &model.Group{PeriodKey: UnknownKey}
			}
			unknown.Messages = append(unknown.Messages, msg)
			continue
		}
		key := s.Key(msg.Date)
		g, ok := byKey[key]
		if !ok {
			g = &model.Group{PeriodKey: key, Start: s.Start(msg.Date)}
			byKey[key] = g
		}
		g.Messages = append(g.Messages, msg)
	}

	groups := make([]model.Group, 0, len(byKey)+1)
	for _, g := range byKey {
		sortMessages(g.Messages)
		groups = append(groups, *g)
	}
	// Keys are zero-padded, so ordering by key is ordering by period. Start
	// alone is ambiguous when messages carry different offsets.
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].PeriodKey < groups[j].PeriodKey
	})

	if unknown != nil {
		sortMessages(unknown.Messages)
		groups = append(groups, *unknown)
	}
	return groups
}

func sortMessages(msgs []*model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})
}
