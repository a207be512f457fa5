// Package ffmpeg wraps the external media toolchain's probing binary.
// Dubbing transforms run through stage workers; this package only answers
// metadata questions about uploaded videos.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult contains the ffprobe output fields dubarr consumes.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	NumStreams     int               `json:"nb_streams"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index         int    `json:"index"`
	CodecName     string `json:"codec_name"`
	CodecLongName string `json:"codec_long_name"`
	CodecType     string `json:"codec_type"` // video, audio, subtitle, data
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	SampleRate    string `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	BitRate       string `json:"bit_rate,omitempty"`
	RFrameRate    string `json:"r_frame_rate,omitempty"`
	AvgFrameRate  string `json:"avg_frame_rate,omitempty"`
	Duration      string `json:"duration,omitempty"`
}

// VideoInfo is the simplified metadata surfaced by the video-info endpoint.
type VideoInfo struct {
	SizeBytes       int64   `json:"size"`
	DurationSeconds float64 `json:"duration"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Resolution      string  `json:"resolution"`
	Bitrate         int     `json:"bitrate"`
	Codec           string  `json:"codec"`
	AudioCodec      string  `json:"audio_codec,omitempty"`
	Framerate       float64 `json:"framerate,omitempty"`
	Format          string  `json:"format,omitempty"`
}

// Prober handles ffprobe operations on local files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new file prober. An empty path resolves ffprobe from
// PATH.
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

// Probe probes a local file and returns detailed information.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// VideoInfo probes a file and reduces the result to the metadata the API
// serves. The on-disk size is taken from the filesystem when ffprobe omits
// it.
func (p *Prober) VideoInfo(ctx context.Context, path string) (*VideoInfo, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	info := result.Simplify()
	if info.SizeBytes == 0 {
		if stat, statErr := os.Stat(path); statErr == nil {
			info.SizeBytes = stat.Size()
		}
	}
	return info, nil
}

// Simplify reduces a probe result to the served metadata.
func (r *ProbeResult) Simplify() *VideoInfo {
	info := &VideoInfo{Format: r.Format.FormatName}

	if r.Format.Size != "" {
		if size, err := strconv.ParseInt(r.Format.Size, 10, 64); err == nil {
			info.SizeBytes = size
		}
	}
	if r.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(r.Format.Duration, 64); err == nil {
			info.DurationSeconds = dur
		}
	}
	if r.Format.BitRate != "" {
		if br, err := strconv.Atoi(r.Format.BitRate); err == nil {
			info.Bitrate = br
		}
	}

	if video := r.VideoStream(); video != nil {
		info.Codec = video.CodecName
		info.Width = video.Width
		info.Height = video.Height
		if video.Width > 0 && video.Height > 0 {
			info.Resolution = fmt.Sprintf("%dx%d", video.Width, video.Height)
		}
		info.Framerate = video.Framerate()
	}
	if audio := r.AudioStream(); audio != nil {
		info.AudioCodec = audio.CodecName
	}
	return info
}

// VideoStream returns the first video stream, or nil.
func (r *ProbeResult) VideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// AudioStream returns the first audio stream, or nil.
func (r *ProbeResult) AudioStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Framerate returns the stream framerate.
func (s *ProbeStream) Framerate() float64 {
	if s.AvgFrameRate != "" {
		return parseFramerate(s.AvgFrameRate)
	}
	if s.RFrameRate != "" {
		return parseFramerate(s.RFrameRate)
	}
	return 0
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
