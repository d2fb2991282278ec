// Package faceseg turns per-frame face samples into a stable sequence of
// portrait/landscape render decisions.
package faceseg

import (
	"errors"
	"math"
)

// Render modes for a segment.
const (
	ModePortrait      = "portrait"
	ModeLandscapeBlur = "landscape_blur"
)

// FaceBox is a detected face in normalized frame coordinates.
type FaceBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// CenterX returns the horizontal center of the box.
func (f FaceBox) CenterX() float64 { return f.X + f.Width/2 }

// CenterY returns the vertical center of the box.
func (f FaceBox) CenterY() float64 { return f.Y + f.Height/2 }

// Area returns the normalized area of the box.
func (f FaceBox) Area() float64 { return f.Width * f.Height }

// FrameFaces is one sampled frame with its detected faces.
type FrameFaces struct {
	Timestamp float64
	Faces     []FaceBox
}

// SegmentDecision is one render instruction over [Start, End).
type SegmentDecision struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Mode        string  `json:"mode"`
	CropCenterX float64 `json:"crop_center_x"`
	CropCenterY float64 `json:"crop_center_y"`
	FaceCount   int     `json:"face_count"`
}

// ErrInvalidRange is returned when clipEnd <= clipStart.
var ErrInvalidRange = errors.New("clip_end must be greater than clip_start")

// Analyzer holds the windowing and smoothing configuration.
type Analyzer struct {
	segmentDuration   float64
	minSwitchDuration float64
	cropDamping       float64
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithSegmentDuration sets the window width in seconds (min 0.25).
func WithSegmentDuration(sec float64) Option {
	return func(a *Analyzer) { a.segmentDuration = math.Max(0.25, sec) }
}

// WithMinSwitchDuration sets the anti-flicker threshold in seconds (min 0.25).
func WithMinSwitchDuration(sec float64) Option {
	return func(a *Analyzer) { a.minSwitchDuration = math.Max(0.25, sec) }
}

// WithCropDamping sets the crop smoothing factor, clamped to [0, 0.95].
func WithCropDamping(d float64) Option {
	return func(a *Analyzer) { a.cropDamping = math.Max(0, math.Min(0.95, d)) }
}

// NewAnalyzer returns an Analyzer with the default configuration
// (2s windows, 1.2s anti-flicker threshold, 0.65 damping).
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{segmentDuration: 2.0, minSwitchDuration: 1.2, cropDamping: 0.65}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze produces segment decisions partitioning [clipStart, clipEnd)
// exactly: window, decide per window, merge equal neighbors, suppress
// flicker, then smooth crop centers.
func (a *Analyzer) Analyze(samples []FrameFaces, clipStart, clipEnd float64) ([]SegmentDecision, error) {
	if clipEnd <= clipStart {
		return nil, ErrInvalidRange
	}
	var decisions []SegmentDecision
	for cursor := clipStart; cursor < clipEnd; {
		edge := math.Min(clipEnd, cursor+a.segmentDuration)
		decisions = append(decisions, a.analyzeWindow(samples, cursor, edge))
		cursor = edge
	}
	merged := a.MergeAdjacent(decisions)
	stable := a.ApplyAntiFlicker(merged)
	return a.SmoothCropCenters(stable), nil
}

func (a *Analyzer) analyzeWindow(samples []FrameFaces, start, end float64) SegmentDecision {
	neutral := SegmentDecision{Start: start, End: end, Mode: ModeLandscapeBlur, CropCenterX: 0.5, CropCenterY: 0.5}

	var nonEmpty []FrameFaces
	for _, s := range samples {
		if s.Timestamp >= start && s.Timestamp < end && len(s.Faces) > 0 {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) == 0 {
		return neutral
	}

	var sumCount, sumArea, sumX, sumY float64
	for _, s := range nonEmpty {
		primary := s.Faces[0]
		for _, f := range s.Faces[1:] {
			if f.Area() > primary.Area() {
				primary = f
			}
		}
		sumCount += float64(len(s.Faces))
		sumArea += primary.Area()
		sumX += primary.CenterX()
		sumY += primary.CenterY()
	}
	n := float64(len(nonEmpty))
	avgCount := sumCount / n
	avgArea := sumArea / n

	mode := ModeLandscapeBlur
	if avgCount < 1.5 && avgArea >= 0.02 {
		mode = ModePortrait
	}
	return SegmentDecision{
		Start:       start,
		End:         end,
		Mode:        mode,
		CropCenterX: clamp01(sumX / n),
		CropCenterY: clamp01(sumY / n),
		FaceCount:   int(math.Round(avgCount)),
	}
}

// MergeAdjacent coalesces consecutive segments with identical mode. Centers
// and face counts merge duration-weighted.
func (a *Analyzer) MergeAdjacent(segments []SegmentDecision) []SegmentDecision {
	if len(segments) == 0 {
		return nil
	}
	merged := []SegmentDecision{segments[0]}
	for _, cur := range segments[1:] {
		prev := &merged[len(merged)-1]
		if cur.Mode != prev.Mode {
			merged = append(merged, cur)
			continue
		}
		da := math.Max(0.01, prev.End-prev.Start)
		db := math.Max(0.01, cur.End-cur.Start)
		combined := da + db
		*prev = SegmentDecision{
			Start:       prev.Start,
			End:         cur.End,
			Mode:        prev.Mode,
			CropCenterX: (prev.CropCenterX*da + cur.CropCenterX*db) / combined,
			CropCenterY: (prev.CropCenterY*da + cur.CropCenterY*db) / combined,
			FaceCount:   int(math.Round((float64(prev.FaceCount)*da + float64(cur.FaceCount)*db) / combined)),
		}
	}
	return merged
}

// ApplyAntiFlicker rewrites any short interior segment whose neighbors agree
// on a different mode, then re-merges.
func (a *Analyzer) ApplyAntiFlicker(segments []SegmentDecision) []SegmentDecision {
	if len(segments) <= 2 {
		return segments
	}
	stabilized := make([]SegmentDecision, 0, len(segments))
	for i, seg := range segments {
		if i == 0 || i == len(segments)-1 {
			stabilized = append(stabilized, seg)
			continue
		}
		prev, next := segments[i-1], segments[i+1]
		if seg.End-seg.Start < a.minSwitchDuration && prev.Mode == next.Mode && prev.Mode != seg.Mode {
			stabilized = append(stabilized, SegmentDecision{
				Start:       seg.Start,
				End:         seg.End,
				Mode:        prev.Mode,
				CropCenterX: (prev.CropCenterX + next.CropCenterX) / 2,
				CropCenterY: (prev.CropCenterY + next.CropCenterY) / 2,
				FaceCount:   int(math.Round(float64(prev.FaceCount+next.FaceCount) / 2)),
			})
			continue
		}
		stabilized = append(stabilized, seg)
	}
	return a.MergeAdjacent(stabilized)
}

// SmoothCropCenters applies exponential smoothing to crop centers left to
// right, seeded at the first segment's center.
func (a *Analyzer) SmoothCropCenters(segments []SegmentDecision) []SegmentDecision {
	if len(segments) == 0 {
		return nil
	}
	smoothed := make([]SegmentDecision, 0, len(segments))
	prevX := segments[0].CropCenterX
	prevY := segments[0].CropCenterY
	for _, seg := range segments {
		seg.CropCenterX = clamp01(a.cropDamping*prevX + (1-a.cropDamping)*seg.CropCenterX)
		seg.CropCenterY = clamp01(a.cropDamping*prevY + (1-a.cropDamping)*seg.CropCenterY)
		smoothed = append(smoothed, seg)
		prevX, prevY = seg.CropCenterX, seg.CropCenterY
	}
	return smoothed
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
