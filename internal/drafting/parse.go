package drafting

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/wolfman30/support-copilot/internal/llm"
)

var (
	errNoReply             = errors.New("reply is empty")
	errNoStructure         = errors.New("no reply structure found")
	errUnusableConfidence  = errors.New("confidence is not a number")
	errMalformedConfidence = errors.New("confidence has an unsupported type")
)

type parsedReply struct {
	Reply         string
	Justification string
	Confidence    float64
}

type jsonReply struct {
	Reply         string          `json:"reply"`
	Justification string          `json:"justification"`
	Confidence    json.RawMessage `json:"confidence"`
}

// parseReply reads the model's answer. JSON is preferred; labelled
// "Reply:/Justification:/Confidence:" text is accepted as a fallback. A
// missing confidence counts as 0 and out-of-range values are clamped, but a
// confidence that is present and not numeric is an error.
func parseReply(text string) (parsedReply, error) {
	if raw, ok := llm.ExtractJSONObject(text); ok {
		var jr jsonReply
		if err := json.Unmarshal([]byte(raw), &jr); err == nil {
			conf, err := confidenceFromJSON(jr.Confidence)
			if err != nil {
				return parsedReply{}, err
			}
			return finish(jr.Reply, jr.Justification, conf)
		}
	}
	return parseLabelled(text)
}

func confidenceFromJSON(raw json.RawMessage) (float64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, nil
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return clamp01(num), nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return parseConfidence(str)
	}
	return 0, errMalformedConfidence
}

// parseConfidence accepts "0.8", "80%" and blank. Percentages are divided by 100.
func parseConfidence(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errUnusableConfidence
	}
	if percent {
		v /= 100
	}
	return clamp01(v), nil
}

func parseLabelled(text string) (parsedReply, error) {
	lower := strings.ToLower(text)
	replyAt := strings.Index(lower, "reply:")
	justAt := strings.Index(lower, "justification:")
	confAt := strings.Index(lower, "confidence:")
	if justAt < 0 && confAt < 0 {
		return parsedReply{}, errNoStructure
	}

	section := func(start int, label string) string {
		if start < 0 {
			return ""
		}
		begin := start + len(label)
		end := len(text)
		for _, other := range []int{replyAt, justAt, confAt} {
			if other > start && other < end {
				end = other
			}
		}
		return strings.TrimSpace(text[begin:end])
	}

	reply := section(replyAt, "reply:")
	if replyAt < 0 {
		// Text before the first label is the reply.
		first := len(text)
		for _, at := range []int{justAt, confAt} {
			if at >= 0 && at < first {
				first = at
			}
		}
		reply = strings.TrimSpace(text[:first])
	}

	conf, err := parseConfidence(firstLine(section(confAt, "confidence:")))
	if err != nil {
		return parsedReply{}, err
	}
	return finish(reply, section(justAt, "justification:"), conf)
}

func finish(reply, justification string, confidence float64) (parsedReply, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return parsedReply{}, errNoReply
	}
	return parsedReply{
		Reply:         reply,
		Justification: strings.TrimSpace(justification),
		Confidence:    clamp01(confidence),
	}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
