// Package collector stores funnel submissions: the HTTP endpoint the bot posts to and its PostgreSQL table.
package collector

import (
	"strings"
	"time"

	"github.com/Proton-105/clearity-bot/internal/submission"
)

// Request is the body accepted by the submit endpoint.
type Request struct {
	submission.Payload
	IPAddress string `json:"ipAddress,omitempty"`
}

// Response is one stored row.
type Response struct {
	ID            int64
	ReceivedAt    time.Time
	SubmittedAt   string
	ChaosLevel    int
	FailureRate   int
	FightNoise    string
	Assistance    string
	Contributions string
	Name          string
	Email         string
	Telegram      string
	UserAgent     string
	IPAddress     string
}

// NewResponse maps a request to a row. ip is used when the request carries none.
func NewResponse(req Request, ip string, receivedAt time.Time) *Response {
	if strings.TrimSpace(req.IPAddress) != "" {
		ip = req.IPAddress
	}

	return &Response{
		ReceivedAt:    receivedAt.UTC(),
		SubmittedAt:   req.Timestamp,
		ChaosLevel:    req.ChaosLevel,
		FailureRate:   req.FailureRate,
		FightNoise:    req.FightNoise,
		Assistance:    req.Assistance,
		Contributions: req.ContributionText(),
		Name:          req.Name,
		Email:         req.Email,
		Telegram:      req.Telegram,
		UserAgent:     req.UserAgent,
		IPAddress:     ip,
	}
}
