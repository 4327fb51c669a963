// Package metrics collects per-request samples and turns them into latency and
// outcome statistics for thresholds and reporting.
package metrics

import (
	"strings"
	"time"
)

// Outcome is the result class of a single request.
type Outcome uint8

const (
	// Success means the transport succeeded and every check passed.
	Success Outcome = iota
	// Failure means the transport failed or a check did not pass.
	Failure
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// Reason explains why a sample failed. Successful samples carry ReasonNone.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonTimeout         Reason = "Timeout"
	ReasonConnectionError Reason = "ConnectionError"
	ReasonStatusMismatch  Reason = "StatusMismatch"
	ReasonCancelled       Reason = "Cancelled"
	ReasonPanic           Reason = "Panic"

	checkFailedPrefix = "CheckFailed<"
)

// CheckFailed returns the reason recorded when the named check rejects a response.
func CheckFailed(name string) Reason {
	return Reason(checkFailedPrefix + name + ">")
}

// CheckName returns the check name carried by a CheckFailed reason.
func (r Reason) CheckName() (string, bool) {
	s := string(r)
	if !strings.HasPrefix(s, checkFailedPrefix) || !strings.HasSuffix(s, ">") {
		return "", false
	}
	return s[len(checkFailedPrefix) : len(s)-1], true
}

// Sample is one recorded request outcome. Samples are values and are never
// modified after they are handed to a Collector.
type Sample struct {
	// Timestamp is taken with time.Now and so carries a monotonic reading.
	Timestamp     time.Time
	Duration      time.Duration
	Outcome       Outcome
	Reason        Reason
	EndpointIndex int
	VUID          uint64
	BytesReceived int64
}

// Failed reports whether the sample counts toward the failure rate.
func (s Sample) Failed() bool {
	return s.Outcome == Failure
}

// NewSuccess builds a successful sample.
func NewSuccess(start time.Time, d time.Duration, endpoint int, vuID uint64, bytes int64) Sample {
	return Sample{
		Timestamp:     start,
		Duration:      d,
		Outcome:       Success,
		EndpointIndex: endpoint,
		VUID:          vuID,
		BytesReceived: bytes,
	}
}

// NewFailure builds a failed sample with the given reason.
func NewFailure(start time.Time, d time.Duration, reason Reason, endpoint int, vuID uint64, bytes int64) Sample {
	return Sample{
		Timestamp:     start,
		Duration:      d,
		Outcome:       Failure,
		Reason:        reason,
		EndpointIndex: endpoint,
		VUID:          vuID,
		BytesReceived: bytes,
	}
}
