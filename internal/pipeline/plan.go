package pipeline

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/personaliz/personaliz-server/internal/media"
)

// tolerance for comparing segment boundaries, in seconds.
const tolerance = 1e-3

// PointKind labels what a personalization window is for.
type PointKind string

const (
	PointGreeting PointKind = "greeting"
	PointName     PointKind = "name"
	PointLocation PointKind = "location"
	PointCustom   PointKind = "custom"
)

// PersonalizationPoint is a window of the base timeline to re-voice.
// Confidence is informational; nothing branches on it.
type PersonalizationPoint struct {
	Kind        PointKind `json:"kind"`
	Start       float64   `json:"start"`
	End         float64   `json:"end"`
	Duration    float64   `json:"duration"`
	Description string    `json:"description,omitempty"`
	Confidence  float64   `json:"confidence"`
}

// NewPoint builds a point with Duration derived from the window.
func NewPoint(kind PointKind, start, end float64, description string, confidence float64) PersonalizationPoint {
	return PersonalizationPoint{
		Kind:        kind,
		Start:       start,
		End:         end,
		Duration:    end - start,
		Description: description,
		Confidence:  confidence,
	}
}

// WindowPolicy decides which windows of a base video get personalized.
type WindowPolicy interface {
	Name() string
	Plan(duration float64) ([]PersonalizationPoint, error)
}

// FixedWindowPolicy personalizes a greeting window at the start and a closing
// window at the end. The closing window is dropped when it would touch or
// overlap the greeting.
type FixedWindowPolicy struct {
	Greeting float64 // seconds
	Closing  float64 // seconds
}

var _ WindowPolicy = FixedWindowPolicy{}

// Name identifies the policy in logs and results.
func (FixedWindowPolicy) Name() string { return "fixed-greeting-closing" }

// Plan returns the greeting window [0, min(G, D)) and, when D-C > G, the
// closing window [D-C, D).
func (p FixedWindowPolicy) Plan(duration float64) ([]PersonalizationPoint, error) {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil, fmt.Errorf("plan: %w: duration %v", media.ErrInvariantViolation, duration)
	}
	if p.Greeting <= 0 {
		return nil, fmt.Errorf("plan: greeting window must be positive, got %v", p.Greeting)
	}

	greetingEnd := math.Min(p.Greeting, duration)
	points := []PersonalizationPoint{NewPoint(PointGreeting, 0, greetingEnd, "opening greeting", 1)}

	if p.Closing > 0 {
		closingStart := duration - p.Closing
		if closingStart > greetingEnd {
			points = append(points, NewPoint(PointCustom, closingStart, duration, "closing line", 1))
		}
	}
	return points, nil
}

// Span is one contiguous slice of the timeline produced by Partition.
type Span struct {
	Kind  media.SegmentKind
	Point PersonalizationPoint // set for personalized spans
	Start float64
	End   float64
}

// Partition splits [0, duration) into personalized spans for points and
// generic spans for the gaps between them.
func Partition(points []PersonalizationPoint, duration float64) ([]Span, error) {
	sorted := slices.Clone(points)
	slices.SortFunc(sorted, func(a, b PersonalizationPoint) int { return cmp.Compare(a.Start, b.Start) })

	var spans []Span
	cursor := 0.0
	for _, p := range sorted {
		if p.End-p.Start <= tolerance {
			return nil, fmt.Errorf("partition: %w: empty window %+v", media.ErrInvariantViolation, p)
		}
		if p.Start < cursor-tolerance {
			return nil, fmt.Errorf("partition: %w: window [%.3f, %.3f) overlaps previous end %.3f",
				media.ErrInvariantViolation, p.Start, p.End, cursor)
		}
		if p.End > duration+tolerance {
			return nil, fmt.Errorf("partition: %w: window [%.3f, %.3f) exceeds duration %.3f",
				media.ErrInvariantViolation, p.Start, p.End, duration)
		}
		if p.Start > cursor+tolerance {
			spans = append(spans, Span{Kind: media.SegmentGeneric, Start: cursor, End: p.Start})
		}
		spans = append(spans, Span{Kind: media.SegmentPersonalized, Point: p, Start: p.Start, End: p.End})
		cursor = p.End
	}
	if cursor < duration-tolerance {
		spans = append(spans, Span{Kind: media.SegmentGeneric, Start: cursor, End: duration})
	}
	return spans, nil
}

// VerifyTiling checks that segments, ordered by start time, cover
// [0, duration) with no gap and no overlap.
func VerifyTiling(segments []media.VideoSegment, duration float64) error {
	if len(segments) == 0 {
		return fmt.Errorf("%w: no segments", media.ErrInvariantViolation)
	}
	ordered := media.SortSegments(segments)

	cursor := 0.0
	for _, s := range ordered {
		if s.Duration() <= 0 {
			return fmt.Errorf("%w: segment %s has non-positive duration", media.ErrInvariantViolation, s.ID)
		}
		if math.Abs(s.StartTime-cursor) > tolerance {
			return fmt.Errorf("%w: segment %s starts at %.3f, expected %.3f",
				media.ErrInvariantViolation, s.ID, s.StartTime, cursor)
		}
		cursor = s.EndTime
	}
	if math.Abs(cursor-duration) > tolerance {
		return fmt.Errorf("%w: segments end at %.3f, expected %.3f", media.ErrInvariantViolation, cursor, duration)
	}
	return nil
}
