// Package hooks ranks LLM-proposed hook windows by combining them with
// speech-rate and impact-keyword signals from the transcript.
package hooks

import (
	"math"
	"sort"
	"strings"

	"autoclipper/internal/transcribe"
)

// Hook is one candidate range proposed by the LLM provider.
type Hook struct {
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	SemanticScore float64 `json:"semantic_score"`
	EmotionScore  float64 `json:"emotion_score"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
}

// Candidate is a scored, accepted hook.
type Candidate struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	ViralScore   int     `json:"viral_score"`
	EmotionScore float64 `json:"emotion_score"`
	SpeechSpike  bool    `json:"speech_spike"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

// impactKeywords are tokens that historically correlate with retention.
var impactKeywords = map[string]bool{
	"shocking": true,
	"secret":   true,
	"mistake":  true,
	"truth":    true,
	"viral":    true,
	"insane":   true,
	"gila":     true,
	"rahasia":  true,
	"penting":  true,
	"jangan":   true,
}

const windowSec = 5.0

type window struct {
	start, end, value float64
}

// Detector scores hook candidates. Zero value is ready to use.
type Detector struct{}

// Detect scores every hook against the word-level transcript and returns
// candidates sorted by descending viral score, truncated to maxClips.
// Hooks below minViralScore are dropped.
func (d Detector) Detect(words []transcribe.Word, llmHooks []Hook, maxClips, minViralScore int) []Candidate {
	if len(llmHooks) == 0 {
		return nil
	}
	speedWindows := speechRateWindows(words)
	keywordWindows := keywordWindows(words)

	var candidates []Candidate
	for _, hook := range llmHooks {
		if hook.End <= hook.Start {
			continue
		}
		emotion := clamp01(hook.EmotionScore)
		semantic := clamp01(hook.SemanticScore)
		confidence := clamp01(hook.Confidence)
		spike := hasSpeechSpike(speedWindows, hook.Start, hook.End)
		keyword := keywordScoreInRange(keywordWindows, hook.Start, hook.End)

		spikeTerm := 0.0
		if spike {
			spikeTerm = 1.0
		}
		score := int((0.30*emotion + 0.25*semantic + 0.25*spikeTerm + 0.20*keyword) * 100)
		if score < 0 {
			score = 0
		}
		if score > 100 {
			score = 100
		}
		if score < minViralScore {
			continue
		}
		reason := hook.Reason
		if reason == "" {
			reason = "scored by multi-signal detector"
		}
		candidates = append(candidates, Candidate{
			Start:        hook.Start,
			End:          hook.End,
			ViralScore:   score,
			EmotionScore: emotion,
			SpeechSpike:  spike,
			Confidence:   confidence,
			Reason:       reason,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ViralScore > candidates[j].ViralScore
	})
	if maxClips >= 0 && len(candidates) > maxClips {
		candidates = candidates[:maxClips]
	}
	return candidates
}

func speechRateWindows(words []transcribe.Word) []window {
	if len(words) == 0 {
		return nil
	}
	start, end := wordSpan(words)
	var windows []window
	for cursor := start; cursor < end; cursor += windowSec {
		edge := math.Min(end, cursor+windowSec)
		count := 0
		for _, w := range words {
			if w.Start >= cursor && w.Start < edge {
				count++
			}
		}
		duration := math.Max(0.1, edge-cursor)
		windows = append(windows, window{start: cursor, end: edge, value: float64(count) / duration})
	}
	return windows
}

func keywordWindows(words []transcribe.Word) []window {
	if len(words) == 0 {
		return nil
	}
	start, end := wordSpan(words)
	var windows []window
	for cursor := start; cursor < end; cursor += windowSec {
		edge := math.Min(end, cursor+windowSec)
		total, hits := 0, 0
		for _, w := range words {
			if w.Start < cursor || w.Start >= edge {
				continue
			}
			total++
			token := strings.Trim(strings.ToLower(w.Word), ".,!?\"'()[]{}")
			if impactKeywords[token] {
				hits++
			}
		}
		value := 0.0
		if total > 0 {
			value = float64(hits) / float64(total)
		}
		windows = append(windows, window{start: cursor, end: edge, value: value})
	}
	return windows
}

func wordSpan(words []transcribe.Word) (float64, float64) {
	start, end := words[0].Start, words[0].End
	for _, w := range words[1:] {
		start = math.Min(start, w.Start)
		end = math.Max(end, w.End)
	}
	return start, end
}

func hasSpeechSpike(windows []window, start, end float64) bool {
	if len(windows) == 0 {
		return false
	}
	var sum float64
	for _, w := range windows {
		sum += w.value
	}
	baseline := sum / float64(len(windows))
	deviation := 0.0
	if len(windows) > 1 {
		var variance float64
		for _, w := range windows {
			variance += (w.value - baseline) * (w.value - baseline)
		}
		deviation = math.Sqrt(variance / float64(len(windows)))
	}
	threshold := baseline + math.Max(0.2, deviation)
	for _, w := range windows {
		if w.start < end && w.end > start && w.value > threshold {
			return true
		}
	}
	return false
}

func keywordScoreInRange(windows []window, start, end float64) float64 {
	var sum float64
	count := 0
	for _, w := range windows {
		if w.start < end && w.end > start {
			sum += w.value
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return clamp01(sum / float64(count))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
