package ffmpeg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbeOutput = `{
  "format": {
    "filename": "demo.mp4",
    "nb_streams": 2,
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "duration": "12.480000",
    "size": "1048576",
    "bit_rate": "672000"
  },
  "streams": [
    {
      "index": 0,
      "codec_name": "h264",
      "codec_type": "video",
      "width": 1920,
      "height": 1080,
      "avg_frame_rate": "30000/1001",
      "bit_rate": "600000"
    },
    {
      "index": 1,
      "codec_name": "aac",
      "codec_type": "audio",
      "sample_rate": "48000",
      "channels": 2
    }
  ]
}`

func TestProbeResult_Simplify(t *testing.T) {
	var result ProbeResult
	require.NoError(t, json.Unmarshal([]byte(sampleProbeOutput), &result))

	info := result.Simplify()
	assert.Equal(t, int64(1048576), info.SizeBytes)
	assert.Equal(t, 12.48, info.DurationSeconds)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.Equal(t, "1920x1080", info.Resolution)
	assert.Equal(t, 672000, info.Bitrate)
	assert.Equal(t, "h264", info.Codec)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.InDelta(t, 29.97, info.Framerate, 0.01)
}

func TestProbeResult_StreamSelectors(t *testing.T) {
	var result ProbeResult
	require.NoError(t, json.Unmarshal([]byte(sampleProbeOutput), &result))

	video := result.VideoStream()
	require.NotNil(t, video)
	assert.Equal(t, "h264", video.CodecName)

	audio := result.AudioStream()
	require.NotNil(t, audio)
	assert.Equal(t, "aac", audio.CodecName)

	empty := ProbeResult{}
	assert.Nil(t, empty.VideoStream())
	assert.Nil(t, empty.AudioStream())
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30000/1001", 29.97002997002997},
		{"24", 24},
		{"0/0", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseFramerate(tt.in), 0.0001, tt.in)
	}
}
