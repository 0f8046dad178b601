package model

// ViolationEvent is one detected anti-cheat signal, kept for admin review.
type ViolationEvent struct {
	AccessToken string `json:"access_token"`
	Signal      string `json:"signal"`
	Detail      string `json:"detail,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}
