package model

import "time"

// ExamResults is the aggregated score posted once per finished attempt.
// Percentages are decimal strings, as the results API expects.
type ExamResults struct {
	TestPercentage      string `json:"test_percentage"`
	AlgorithmPercentage string `json:"algorithm_percentage"`
	ViolationDetected   string `json:"violation_detected"`
}

// ResultSubmission is the payload handed to the results collaborator.
type ResultSubmission struct {
	AccessToken       string `json:"access_token"`
	TestResults       string `json:"test_results"`
	AlgorithmResults  string `json:"algorithm_results"`
	ViolationDetected string `json:"violation_detected"`
}

// CandidateResult is a stored result row, as listed for administrators.
type CandidateResult struct {
	CandidateID       string    `json:"candidate_id"`
	CandidateName     string    `json:"candidate_name"`
	TestResults       string    `json:"test_results"`
	AlgorithmResults  string    `json:"algorithm_results"`
	ViolationDetected bool      `json:"violation_detected"`
	SubmittedAt       time.Time `json:"submitted_at"`
}
