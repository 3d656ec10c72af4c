// Package media wraps ffmpeg and ffprobe: probing, segment extraction,
// personalized segment muxing, splicing and finishing touches.
package media

import "time"

// ProbeResult holds the stream metadata of a media file.
type ProbeResult struct {
	Duration   float64 `json:"duration"` // seconds
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Bitrate    int64   `json:"bitrate"`
	FPS        float64 `json:"fps"`
	Codec      string  `json:"codec"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	HasAudio   bool    `json:"has_audio"`
}

// SegmentKind distinguishes re-voiced segments from untouched ones.
type SegmentKind string

const (
	SegmentPersonalized SegmentKind = "personalized"
	SegmentGeneric      SegmentKind = "generic"
)

// VideoSegment is one clip of the base timeline.
type VideoSegment struct {
	ID          string      `json:"id"`
	Kind        SegmentKind `json:"kind"`
	StartTime   float64     `json:"start_time"`
	EndTime     float64     `json:"end_time"`
	Path        string      `json:"path"`
	AudioPath   string      `json:"audio_path,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Duration returns EndTime - StartTime.
func (s VideoSegment) Duration() float64 { return s.EndTime - s.StartTime }

// SegmentExtractionResult is the partition of a base video's timeline into
// personalized and generic clips, each set ordered by start time.
type SegmentExtractionResult struct {
	Personalized []VideoSegment `json:"personalized"`
	Generic      []VideoSegment `json:"generic"`
	TotalCount   int            `json:"total_count"`
}

// NewSegmentExtractionResult splits segments by kind.
func NewSegmentExtractionResult(segments []VideoSegment) SegmentExtractionResult {
	var res SegmentExtractionResult
	for _, seg := range SortSegments(segments) {
		if seg.Kind == SegmentPersonalized {
			res.Personalized = append(res.Personalized, seg)
		} else {
			res.Generic = append(res.Generic, seg)
		}
	}
	res.TotalCount = len(res.Personalized) + len(res.Generic)
	return res
}

// All returns every segment ordered by start time.
func (r SegmentExtractionResult) All() []VideoSegment {
	all := make([]VideoSegment, 0, r.TotalCount)
	all = append(all, r.Personalized...)
	all = append(all, r.Generic...)
	return SortSegments(all)
}

// MergeRequest splices a personalized head into a base video.
type MergeRequest struct {
	BaseVideoPath           string  `json:"base_video_path"`
	PersonalizedSegmentPath string  `json:"personalized_segment_path"`
	SegmentDuration         float64 `json:"segment_duration"`
	OutputPath              string  `json:"output_path,omitempty"`
	Fade                    bool    `json:"fade,omitempty"`
	FadeDuration            float64 `json:"fade_duration,omitempty"`
}

// MergeResult is the structured outcome of a merge. Failures set Success
// false and Error; nothing is thrown past this boundary.
type MergeResult struct {
	Success        bool          `json:"success"`
	OutputPath     string        `json:"output_path,omitempty"`
	FileSize       int64         `json:"file_size,omitempty"`
	Duration       float64       `json:"duration,omitempty"`
	ProcessingTime time.Duration `json:"-"`
	ProcessingMs   int64         `json:"processing_time_ms"`
	Error          string        `json:"error,omitempty"`
}
