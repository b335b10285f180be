// Package submission delivers captured funnel answers to the collector endpoint.
package submission

import "strings"

// Payload is the JSON body accepted by the collector.
type Payload struct {
	ChaosLevel   int      `json:"chaosLevel"`
	FailureRate  int      `json:"failureRate"`
	FightNoise   string   `json:"fightNoise"`
	Assistance   string   `json:"assistance"`
	Contribution []string `json:"contribution"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Telegram     string   `json:"telegram"`
	// Timestamp is RFC 3339, set when the visitor submits the contact stage.
	Timestamp string `json:"timestamp"`
	UserAgent string `json:"userAgent"`
}

// ContributionText joins the selected options the way the collector stores them.
func (p Payload) ContributionText() string {
	return strings.Join(p.Contribution, ", ")
}
