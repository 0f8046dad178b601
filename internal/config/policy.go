package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/stemsi/exam-runner/internal/exam"
	"github.com/stemsi/exam-runner/internal/violation"
)

// PolicyFile is the TOML layout of POLICY_FILE.
//
//	[timers]
//	question_seconds = 60
//	algorithm_seconds = 600
//	allow_back_navigation = false
//	global_limit = "90m"
//
//	[monitor]
//	poll_interval = "500ms"
//	threshold = 160
type PolicyFile struct {
	Timers struct {
		QuestionSeconds     int    `toml:"question_seconds"`
		AlgorithmSeconds    int    `toml:"algorithm_seconds"`
		AllowBackNavigation bool   `toml:"allow_back_navigation"`
		GlobalLimit         string `toml:"global_limit"`
	} `toml:"timers"`
	Monitor struct {
		PollInterval string `toml:"poll_interval"`
		Threshold    int    `toml:"threshold"`
	} `toml:"monitor"`
}

// Policy is the resolved timing and anti-cheat configuration.
type Policy struct {
	Exam             exam.Policy
	MonitorInterval  time.Duration
	MonitorThreshold int
}

// DefaultPolicy returns the built-in policy used when no file is configured.
func DefaultPolicy() Policy {
	return Policy{
		Exam:             exam.DefaultPolicy(),
		MonitorInterval:  violation.DefaultPollInterval,
		MonitorThreshold: violation.DefaultThreshold,
	}
}

// LoadPolicy reads path, or returns DefaultPolicy when path is empty.
// Fields missing from the file keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a TOML policy document over the defaults.
func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()

	var f PolicyFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return p, fmt.Errorf("parse policy TOML: %w", err)
	}

	if f.Timers.QuestionSeconds < 0 || f.Timers.AlgorithmSeconds < 0 {
		return p, fmt.Errorf("timer budgets must not be negative")
	}
	if f.Timers.QuestionSeconds > 0 {
		p.Exam.QuestionSeconds = f.Timers.QuestionSeconds
	}
	if f.Timers.AlgorithmSeconds > 0 {
		p.Exam.AlgorithmSeconds = f.Timers.AlgorithmSeconds
	}
	p.Exam.AllowBackNavigation = f.Timers.AllowBackNavigation

	if f.Timers.GlobalLimit != "" {
		d, err := time.ParseDuration(f.Timers.GlobalLimit)
		if err != nil {
			return p, fmt.Errorf("parse global_limit: %w", err)
		}
		p.Exam.GlobalLimit = d
	}

	if f.Monitor.PollInterval != "" {
		d, err := time.ParseDuration(f.Monitor.PollInterval)
		if err != nil {
			return p, fmt.Errorf("parse poll_interval: %w", err)
		}
		if d <= 0 {
			return p, fmt.Errorf("poll_interval must be positive")
		}
		p.MonitorInterval = d
	}
	if f.Monitor.Threshold > 0 {
		p.MonitorThreshold = f.Monitor.Threshold
	}

	return p, nil
}
