package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StructuredReport is the typed view of the expert stage 1 JSON. The
// Markdown stage still receives the raw text; this view exists for
// validation and for callers that want the analysis as data.
type StructuredReport struct {
	Summary         []SummaryPoint   `json:"summary"`
	Topics          []Topic          `json:"topics"`
	Risks           []Risk           `json:"risks"`
	Stakeholders    []Stakeholder    `json:"stakeholders"`
	Recommendations []Recommendation `json:"recommendations"`
	References      []Reference      `json:"references"`
}

type SummaryPoint struct {
	Text string `json:"text"`
}

type Topic struct {
	ID                 Text   `json:"id"`
	Name               string `json:"name"`
	Claim              string `json:"claim"`
	EvidenceIDs        IDList `json:"evidence_ids"`
	CounterEvidenceIDs IDList `json:"counter_evidence_ids"`
	Impact             Text   `json:"impact"`
	Confidence         string `json:"confidence"`
	ConfidenceReason   string `json:"confidence_reason"`
}

type Risk struct {
	Name       string `json:"name"`
	Level      string `json:"level"`
	Reason     string `json:"reason"`
	Trigger    string `json:"trigger"`
	Mitigation string `json:"mitigation"`
	Dimensions Text   `json:"dimensions"`
}

type Stakeholder struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Stance      string `json:"stance"`
	Motivation  string `json:"motivation"`
	EvidenceIDs IDList `json:"evidence_ids"`
}

type Recommendation struct {
	Action   string `json:"action"`
	Reason   string `json:"reason"`
	Risks    Text   `json:"risks"`
	Priority string `json:"priority"`
	Horizon  string `json:"horizon"`
}

type Reference struct {
	ID     Text   `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source"`
	URL    string `json:"url"`
	Date   string `json:"date"`
}

// Text accepts a string, a number or a list of strings from the model and
// keeps it as one string; lists are joined with "、".
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*t = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
	case '[':
		var parts []Text
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		ss := make([]string, len(parts))
		for i, p := range parts {
			ss[i] = string(p)
		}
		*t = Text(strings.Join(ss, "、"))
	default:
		*t = Text(b)
	}
	return nil
}

// IDList is a list of evidence ids. Models emit 1, "1", "[1]" or "E1"
// interchangeably; entries with no digits are dropped.
type IDList []int

func (l *IDList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	var raw []json.RawMessage
	if b[0] == '[' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else {
		raw = []json.RawMessage{b}
	}
	out := make(IDList, 0, len(raw))
	for _, r := range raw {
		if n, ok := parseID(r); ok {
			out = append(out, n)
		}
	}
	*l = out
	return nil
}

func parseID(r json.RawMessage) (int, bool) {
	var f float64
	if err := json.Unmarshal(r, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(r, &s); err != nil {
		return 0, false
	}
	digits := strings.Map(func(c rune) rune {
		if c >= '0' && c <= '9' {
			return c
		}
		return -1
	}, s)
	n, err := strconv.Atoi(digits)
	return n, err == nil
}

// ParseStructured decodes the object returned by llm.ExtractObject.
func ParseStructured(obj map[string]any) (*StructuredReport, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("report: structured: %w", err)
	}
	var sr StructuredReport
	if err := json.Unmarshal(b, &sr); err != nil {
		return nil, fmt.Errorf("report: structured: %w", err)
	}
	return &sr, nil
}

// Check lists evidence ids that do not point at one of the n numbered
// evidence entries, and claims that cite nothing.
func (sr *StructuredReport) Check(n int) []string {
	var problems []string
	bad := func(where string, ids IDList) {
		for _, id := range ids {
			if id < 1 || id > n {
				problems = append(problems, fmt.Sprintf("%s: evidence id %d out of range 1..%d", where, id, n))
			}
		}
	}
	for i, t := range sr.Topics {
		where := fmt.Sprintf("topics[%d]", i)
		if t.Claim != "" && len(t.EvidenceIDs) == 0 {
			problems = append(problems, where+": claim without evidence_ids")
		}
		bad(where, t.EvidenceIDs)
		bad(where+" counter", t.CounterEvidenceIDs)
	}
	for i, s := range sr.Stakeholders {
		bad(fmt.Sprintf("stakeholders[%d]", i), s.EvidenceIDs)
	}
	return problems
}
