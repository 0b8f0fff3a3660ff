package api

import (
	"github.com/samcharles93/aistudio/internal/chat"
	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/internal/model"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type ModelResponse struct {
	ID            string              `json:"id"`
	Object        string              `json:"object"`
	Name          string              `json:"name"`
	Compatibility model.Compatibility `json:"compatibility"`
	Label         string              `json:"label"`
	Detail        string              `json:"detail,omitempty"`
	Format        string              `json:"format,omitempty"`
	SizeBytes     int64               `json:"size_bytes"`
	HasTokenizer  bool                `json:"has_tokenizer"`
	Selectable    bool                `json:"selectable"`
	ImportedAt    int64               `json:"imported_at"`
	ProbedAt      *int64              `json:"probed_at,omitempty"`
}

type ModelList struct {
	Object string          `json:"object"`
	Data   []ModelResponse `json:"data"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// ImportRequest names a file on the server's filesystem. Uploads send the
// model bytes as the request body instead.
type ImportRequest struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

type PairTokenizerRequest struct {
	Path string `json:"path"`
}

type SettingsResponse struct {
	Object string `json:"object"`
	model.Settings
	// Greedy is always true: temperature and top_k are stored but not
	// applied to decoding.
	Greedy bool `json:"greedy"`
}

type CreateChatRequest struct {
	ModelID string `json:"model_id,omitempty"`
}

type SelectModelRequest struct {
	ModelID string `json:"model_id"`
}

type ChatResponse struct {
	ID       string         `json:"id"`
	Object   string         `json:"object"`
	Model    *ModelResponse `json:"model,omitempty"`
	Busy     bool           `json:"busy"`
	Messages []chat.Message `json:"messages"`
}

type MessageRequest struct {
	Content     string `json:"content"`
	Accelerator string `json:"accelerator,omitempty"`
	Stream      *bool  `json:"stream,omitempty"`
}

type UsageResponse struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	FirstTokenMS     int64   `json:"first_token_ms"`
	DurationMS       int64   `json:"duration_ms"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

// MessageResponse is the final state of one turn. Streams send it as the
// done event.
type MessageResponse struct {
	Object      string         `json:"object"`
	ChatID      string         `json:"chat_id"`
	SessionID   string         `json:"session_id"`
	State       string         `json:"state"`
	Accelerator string         `json:"accelerator,omitempty"`
	Content     string         `json:"content"`
	Usage       UsageResponse  `json:"usage"`
	Error       *ResponseError `json:"error,omitempty"`
}

type FragmentEvent struct {
	SessionID      string `json:"session_id"`
	Delta          string `json:"delta"`
	SequenceNumber int    `json:"sequence_number"`
}

func modelResponse(d model.Descriptor) ModelResponse {
	r := ModelResponse{
		ID:            d.ID,
		Object:        "model",
		Name:          d.Name,
		Compatibility: d.Compatibility,
		Label:         d.Compatibility.Label(),
		Detail:        d.Detail,
		Format:        d.Format,
		SizeBytes:     d.SizeBytes,
		HasTokenizer:  d.HasTokenizer(),
		Selectable:    d.Generatable(),
		ImportedAt:    d.ImportedAt.Unix(),
	}
	if !d.ProbedAt.IsZero() {
		at := d.ProbedAt.Unix()
		r.ProbedAt = &at
	}
	return r
}

func usageResponse(s inference.Stats) UsageResponse {
	return UsageResponse{
		PromptTokens:     s.PromptTokens,
		CompletionTokens: s.TokensGenerated,
		FirstTokenMS:     s.FirstToken.Milliseconds(),
		DurationMS:       s.Duration.Milliseconds(),
		TokensPerSecond:  s.TPS,
	}
}

func messageResponse(chatID string, turn *chat.Turn) MessageResponse {
	sess := turn.Session()
	r := MessageResponse{
		Object:      "chat.message",
		ChatID:      chatID,
		SessionID:   sess.ID(),
		State:       sess.State().String(),
		Accelerator: sess.Accelerator().String(),
		Content:     turn.Text(),
		Usage:       usageResponse(sess.Stats()),
	}
	if err := sess.Err(); err != nil {
		_, errType := classify(err)
		r.Error = &ResponseError{Message: err.Error(), Type: errType}
	}
	return r
}
