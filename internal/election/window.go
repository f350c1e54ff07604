// Package election — статус выборов по времени (upcoming/ongoing/ended).
package election

import (
	"fmt"
	"strings"
	"time"

	"campusvote/internal/models"
)

type Window struct {
	Ongoing  bool `json:"ongoing"`
	Upcoming bool `json:"upcoming"`
	Ended    bool `json:"ended"`
}

// Resolve: ongoing = start <= now <= end; upcoming = now < start; ended = now > end.
// Без start — ни ongoing, ни upcoming; без end — ни ongoing, ни ended.
func Resolve(now time.Time, start, end *time.Time) Window {
	var w Window
	if start != nil {
		w.Upcoming = now.Before(*start)
	}
	if end != nil {
		w.Ended = now.After(*end)
	}
	if start != nil && end != nil {
		w.Ongoing = !now.Before(*start) && !now.After(*end)
	}
	return w
}

func ForElection(now time.Time, e *models.Election) Window {
	return Resolve(now, e.StartDate, e.EndDate)
}

func ForConfig(now time.Time, c *models.ElectionConfig) Window {
	return Resolve(now, c.ElectionStarts, c.ElectionEnds)
}

// State — одно слово для ответа API.
func (w Window) State() string {
	switch {
	case w.Ongoing:
		return string(StatusOngoing)
	case w.Upcoming:
		return string(StatusUpcoming)
	case w.Ended:
		return string(StatusEnded)
	default:
		return "unscheduled"
	}
}

// Status — фильтр списка выборов.
type Status string

const (
	StatusAll      Status = "all"
	StatusOngoing  Status = "ongoing"
	StatusUpcoming Status = "upcoming"
	StatusEnded    Status = "ended"
)

// ParseStatus: пустая строка — all.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StatusAll, nil
	case StatusAll, StatusOngoing, StatusUpcoming, StatusEnded:
		return st, nil
	default:
		return "", fmt.Errorf("unknown election status %q", s)
	}
}
