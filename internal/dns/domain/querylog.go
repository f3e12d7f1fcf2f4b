package domain

import "time"

// AnswerSource names the stage of the resolution chain that produced an answer.
type AnswerSource string

const (
	SourceBlocklist AnswerSource = "blocklist"
	SourceZone      AnswerSource = "zone"
	SourceCache     AnswerSource = "cache"
	SourceUpstream  AnswerSource = "upstream"
	SourceNone      AnswerSource = "none"
)

// QueryLog is one entry in the query history kept for the stats endpoints.
type QueryLog struct {
	Time     time.Time     `json:"time"`
	Client   string        `json:"client"`
	Name     string        `json:"name"`
	Type     string        `json:"type"`
	RCode    string        `json:"rcode"`
	Blocked  bool          `json:"blocked"`
	Source   AnswerSource  `json:"source"`
	Duration time.Duration `json:"duration"`
}
