package chatapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResultKind tags the three shapes every endpoint can answer with
type ResultKind int

const (
	ResultData ResultKind = iota
	ResultEmpty
	ResultFailure
)

func (k ResultKind) String() string {
	switch k {
	case ResultData:
		return "data"
	case ResultEmpty:
		return "empty"
	case ResultFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Result is a decoded response envelope
type Result struct {
	Kind    ResultKind
	Data    json.RawMessage
	Message string
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// decodeEnvelope classifies a response body. A body without a success flag is
// treated as bare data so older endpoints keep working.
func decodeEnvelope(body []byte) (Result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Result{Kind: ResultEmpty}, nil
	}

	var env envelope
	if trimmed[0] != '{' {
		return Result{Kind: ResultData, Data: json.RawMessage(trimmed)}, nil
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if env.Success == nil {
		return Result{Kind: ResultData, Data: json.RawMessage(trimmed)}, nil
	}

	msg := env.Message
	if msg == "" {
		msg = env.Error
	}
	if !*env.Success {
		return Result{Kind: ResultFailure, Message: msg}, nil
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Result{Kind: ResultEmpty, Message: msg}, nil
	}
	return Result{Kind: ResultData, Data: json.RawMessage(data), Message: msg}, nil
}

// decodeData requires a data result and unmarshals it into out
func decodeData(res Result, out interface{}) error {
	switch res.Kind {
	case ResultData:
		if err := json.Unmarshal(res.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
		return nil
	case ResultEmpty:
		return fmt.Errorf("expected data, server returned an empty success")
	case ResultFailure:
		return fmt.Errorf("server reported failure: %s", res.Message)
	default:
		return fmt.Errorf("unknown result kind %d", res.Kind)
	}
}
