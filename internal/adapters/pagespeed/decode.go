package pagespeed

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/okian/pagespeed/internal/domain/model"
)

// field binds a Lighthouse key to the result attribute it fills.
type field struct {
	key string
	set func(*model.ScoreResult, float64)
}

// Category scores arrive in 0..1 and are stored as percentages.
var categories = []field{
	{"performance", func(r *model.ScoreResult, v float64) { r.PerformanceScore = v }},
	{"accessibility", func(r *model.ScoreResult, v float64) { r.AccessibilityScore = v }},
	{"best-practices", func(r *model.ScoreResult, v float64) { r.BestPracticesScore = v }},
	{"seo", func(r *model.ScoreResult, v float64) { r.SEOScore = v }},
	{"pwa", func(r *model.ScoreResult, v float64) { r.PWAScore = v }},
}

// Audit numeric values are copied as-is (milliseconds, CLS is unitless).
var audits = []field{
	{"first-contentful-paint", func(r *model.ScoreResult, v float64) { r.FirstContentfulPaint = v }},
	{"largest-contentful-paint", func(r *model.ScoreResult, v float64) { r.LargestContentfulPaint = v }},
	{"cumulative-layout-shift", func(r *model.ScoreResult, v float64) { r.CumulativeLayoutShift = v }},
	{"interactive", func(r *model.ScoreResult, v float64) { r.TimeToInteractive = v }},
	{"total-blocking-time", func(r *model.ScoreResult, v float64) { r.TotalBlockingTime = v }},
	{"speed-index", func(r *model.ScoreResult, v float64) { r.SpeedIndex = v }},
}

type lighthouseEnvelope struct {
	LighthouseResult *struct {
		Categories map[string]json.RawMessage `json:"categories"`
		Audits     map[string]json.RawMessage `json:"audits"`
	} `json:"lighthouseResult"`
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Decode extracts the flat metric set from a runPagespeed response body.
// Absent categories or audits default to 0 and are named in Defaulted as
// "categories.<key>" or "audits.<key>". URL and Device are left for the caller.
func Decode(body []byte) (model.ScoreResult, error) {
	var env lighthouseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return model.ScoreResult{}, &MalformedError{Reason: "invalid JSON", Err: err}
	}
	if env.LighthouseResult == nil || env.LighthouseResult.Categories == nil {
		return model.ScoreResult{}, &MalformedError{Reason: "missing lighthouseResult.categories"}
	}

	var result model.ScoreResult
	for _, f := range categories {
		v, ok, err := number(env.LighthouseResult.Categories[f.key], "score")
		if err != nil {
			return model.ScoreResult{}, &MalformedError{Reason: "categories." + f.key, Err: err}
		}
		if !ok {
			result.Defaulted = append(result.Defaulted, "categories."+f.key)
			continue
		}
		f.set(&result, percent(v))
	}
	for _, f := range audits {
		v, ok, err := number(env.LighthouseResult.Audits[f.key], "numericValue")
		if err != nil {
			return model.ScoreResult{}, &MalformedError{Reason: "audits." + f.key, Err: err}
		}
		if !ok {
			result.Defaulted = append(result.Defaulted, "audits."+f.key)
			continue
		}
		f.set(&result, v)
	}
	return result, nil
}

// number reads obj[key] as a float. A nil object, a missing key or a JSON
// null report ok=false; anything else that is not a number is an error.
func number(obj json.RawMessage, key string) (float64, bool, error) {
	if len(obj) == 0 {
		return 0, false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj, &fields); err != nil {
		return 0, false, err
	}
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return 0, false, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// percent scales a 0..1 score and drops float noise (0.873*100 is 87.3, not 87.30000000000001).
func percent(score float64) float64 {
	return math.Round(score*100*1e6) / 1e6
}

// upstreamMessage pulls error.message out of a failure body.
func upstreamMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil || env.Error.Message == "" {
		return fallbackMessage
	}
	return env.Error.Message
}
