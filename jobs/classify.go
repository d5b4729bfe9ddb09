package jobs

import (
	"strings"

	"github.com/ggoodman/f5-conx-go/mgmt"
)

// Outcome is a classifier's verdict on one poll response.
type Outcome int

const (
	Continue Outcome = iota
	Succeed
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Succeed:
		return "succeed"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Classifier inspects a poll response. Classifiers are tried in order and
// the first one that does not return Continue decides.
type Classifier func(resp *mgmt.Response) Outcome

// DefaultClassifiers returns the classifiers for the job families known to
// the device: task status fields, AS3 style results arrays and restnoded
// restart watches.
func DefaultClassifiers() []Classifier {
	return []Classifier{StatusFailed, StatusDone, FirstResultDone, ServiceRunning}
}

// StatusFailed fails on `"status": "FAILED"`.
func StatusFailed(resp *mgmt.Response) Outcome {
	if status(resp.Map()) == "FAILED" {
		return Fail
	}
	return Continue
}

// StatusDone succeeds on `"status": "FINISHED"` or `"status": "SUCCEEDED"`.
func StatusDone(resp *mgmt.Response) Outcome {
	switch status(resp.Map()) {
	case "FINISHED", "SUCCEEDED":
		return Succeed
	}
	return Continue
}

// FirstResultDone succeeds once the first entry of a "results" array carries
// a message other than "in progress".
func FirstResultDone(resp *mgmt.Response) Outcome {
	results, ok := resp.Map()["results"].([]any)
	if !ok || len(results) == 0 {
		return Continue
	}
	first, ok := results[0].(map[string]any)
	if !ok {
		return Continue
	}
	msg, ok := first["message"].(string)
	if !ok || msg == "in progress" {
		return Continue
	}
	return Succeed
}

// ServiceRunning succeeds when a service stats response, found in
// apiRawValues.apiAnonymous, mentions "run". It is used to wait for a
// service restart.
func ServiceRunning(resp *mgmt.Response) Outcome {
	raw, ok := resp.Map()["apiRawValues"].(map[string]any)
	if !ok {
		return Continue
	}
	out, ok := raw["apiAnonymous"].(string)
	if ok && strings.Contains(out, "run") {
		return Succeed
	}
	return Continue
}

func status(m map[string]any) string {
	s, _ := m["status"].(string)
	return s
}

// classify applies cs in order.
func classify(cs []Classifier, resp *mgmt.Response) Outcome {
	for _, c := range cs {
		if o := c(resp); o != Continue {
			return o
		}
	}
	return Continue
}
