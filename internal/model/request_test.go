package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_UnmarshalWireFormat(t *testing.T) {
	line := `{"message_param":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}],"temperature":0.2}`

	var r Request
	require.NoError(t, json.Unmarshal([]byte(line), &r))

	require.Len(t, r.Messages, 2)
	assert.Equal(t, RoleSystem, r.Messages[0].Role)
	assert.Equal(t, "hi", r.Messages[1].Content)
	require.NotNil(t, r.Temperature)
	assert.InDelta(t, 0.2, *r.Temperature, 0.0001)
	assert.Empty(t, r.Name)
}

func TestRequest_WithDefaults(t *testing.T) {
	r := Request{Messages: []Message{{Role: RoleUser, Content: "x"}}}.WithDefaults("gpt-4")

	assert.Equal(t, "gpt-4", r.Name)
	require.NotNil(t, r.Temperature)
	assert.InDelta(t, DefaultTemperature, *r.Temperature, 0.0001)
	assert.Equal(t, DefaultRetryLimit, r.RetryLimit)
}

func TestRequest_WithDefaults_KeepsOverrides(t *testing.T) {
	temp := 0.0
	r := Request{Name: "gpt-4-32k", Temperature: &temp, RetryLimit: 2}.WithDefaults("gpt-4")

	assert.Equal(t, "gpt-4-32k", r.Name)
	assert.Zero(t, *r.Temperature)
	assert.Equal(t, 2, r.RetryLimit)
}

func TestRequest_WithDefaults_FallsBackToPackageModel(t *testing.T) {
	r := Request{}.WithDefaults("")
	assert.Equal(t, DefaultModel, r.Name)
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{"ok", Request{Messages: []Message{{Role: RoleAssistant, Content: "a"}}}, ""},
		{"empty", Request{}, "no messages"},
		{"bad role", Request{Messages: []Message{{Role: "tool", Content: "a"}}}, `unknown role "tool"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestChunkEntry_Result(t *testing.T) {
	failed := NewChunkEntry("a", 3, DefaultResult())
	assert.Equal(t, Result{Response: FailResponse, Success: false}, failed.Result())

	var legacy ChunkEntry
	require.NoError(t, json.Unmarshal([]byte(`{"source":"a","index":1,"response":"ok"}`), &legacy))
	assert.Equal(t, Result{Response: "ok", Success: true}, legacy.Result())
}

func TestUsage_Total(t *testing.T) {
	assert.Equal(t, int64(15), Usage{PromptTokens: 10, CompletionTokens: 5}.Total())
}
