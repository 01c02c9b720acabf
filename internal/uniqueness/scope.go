package uniqueness

import (
	"strings"
	"time"
)

// Scope is the partition inside which novelty is computed. Two scopes
// never share neighbor state.
type Scope struct {
	ProjectID  string
	Platform   string
	ChannelID  string // optional, narrows to one channel
	AuthorID   string // optional, narrows to one author
	WindowDays int    // optional, 0 means unbounded lookback
	TopK       int    // optional neighbor cap, 0 means engine default
}

// Key is the partition key. Optional components participate even when
// empty so that "project+platform" and "project+platform+channel" never
// collide.
func (s Scope) Key() string {
	return strings.Join([]string{s.ProjectID, s.Platform, s.ChannelID, s.AuthorID}, "|")
}

// WindowStart returns the lower bound of the lookback window, or the zero
// time when the scope is unbounded.
func (s Scope) WindowStart(now time.Time) time.Time {
	if s.WindowDays <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -s.WindowDays)
}

type Neighbor struct {
	ID             string  `json:"id"`
	Similarity     float64 `json:"similarity"`
	LexicalOverlap float64 `json:"lexicalOverlap,omitempty"`
}

type Result struct {
	Score     float64    `json:"score"`
	MaxCosine float64    `json:"maxCosine"`
	Neighbors []Neighbor `json:"neighbors"`
}
