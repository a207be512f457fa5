package worker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractResult(t *testing.T) {
	t.Run("single json line", func(t *testing.T) {
		doc, ok := ExtractResult(`{"unique_speakers": 2}` + "\n")
		require.True(t, ok)
		assert.JSONEq(t, `{"unique_speakers": 2}`, string(doc))
	})

	t.Run("log lines before result", func(t *testing.T) {
		stdout := "loading model\n[Cloning] 1/2\n[Cloning] 2/2\n" + `[{"segment_index":0,"status":"ok"}]` + "\n"
		doc, ok := ExtractResult(stdout)
		require.True(t, ok)

		var items []map[string]any
		require.NoError(t, json.Unmarshal(doc, &items))
		assert.Len(t, items, 1)
	})

	t.Run("pretty printed result", func(t *testing.T) {
		stdout := "done\n{\n  \"output_file\": \"final_video.mp4\",\n  \"duration_seconds\": 12.5\n}\n"
		doc, ok := ExtractResult(stdout)
		require.True(t, ok)
		assert.JSONEq(t, `{"output_file":"final_video.mp4","duration_seconds":12.5}`, string(doc))
	})

	t.Run("last of multiple json lines wins", func(t *testing.T) {
		stdout := `{"partial": true}` + "\n" + `{"final": true}` + "\n"
		doc, ok := ExtractResult(stdout)
		require.True(t, ok)
		assert.JSONEq(t, `{"final": true}`, string(doc))
	})

	t.Run("no json", func(t *testing.T) {
		_, ok := ExtractResult("only logs here\nno result\n")
		assert.False(t, ok)
	})

	t.Run("unbalanced json rejected", func(t *testing.T) {
		_, ok := ExtractResult("{\"truncated\": \n")
		assert.False(t, ok)
	})

	t.Run("empty stdout", func(t *testing.T) {
		_, ok := ExtractResult("")
		assert.False(t, ok)
	})
}
