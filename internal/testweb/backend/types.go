package backend

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/testweb/testweb/internal/testweb/domain"
)

// Remote statuses reported by the status endpoint.
const (
	RemotePending   = "pending"
	RemoteRunning   = "running"
	RemoteCompleted = "completed"
	RemoteFailed    = "failed"
	RemoteError     = "error"
)

var (
	ErrTransport     = errors.New("backend request failed")
	ErrEmptyResponse = errors.New("start response carried neither a test id nor a result")
)

// StartResponse is the normalised answer to a start request. Either RemoteId is set and
// the test must be polled, or Result holds the outcome the backend returned inline.
type StartResponse struct {
	RemoteId string
	Result   json.RawMessage
}

func (s StartResponse) IsInline() bool {
	return s.RemoteId == ""
}

type StatusResponse struct {
	Status      string                 `json:"status"`
	Results     json.RawMessage        `json:"results,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Progress    *int                   `json:"progress,omitempty"`
	CurrentStep string                 `json:"currentStep,omitempty"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
}

func (s StatusResponse) IsFailure() bool {
	return s.Status == RemoteFailed || s.Status == RemoteError
}

// RemoteFailure is a failure reported by the backend itself.
type RemoteFailure struct {
	TestType domain.TestType
	Message  string
}

func (e *RemoteFailure) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s test failed", e.TestType)
}

// NewRemoteFailure builds the error for a failed remote status, falling back to a generic message.
func NewRemoteFailure(testType domain.TestType, message string) error {
	return &RemoteFailure{TestType: testType, Message: message}
}

type startEnvelope struct {
	TestId  string          `json:"testId"`
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Results json.RawMessage `json:"results"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// StartDecoder turns the body of a start request into a StartResponse.
type StartDecoder func(testType domain.TestType, body []byte) (StartResponse, error)

// DecodeStartResponse accepts `{testId}`, `{data: {testId}}` and `{success, data|results}`.
func DecodeStartResponse(testType domain.TestType, body []byte) (StartResponse, error) {
	var envelope startEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return StartResponse{}, errors.Wrapf(err, "error decoding %s start response", testType)
	}

	if envelope.Success != nil && !*envelope.Success {
		message := envelope.Message
		if message == "" {
			message = envelope.Error
		}
		return StartResponse{}, NewRemoteFailure(testType, message)
	}
	if envelope.TestId != "" {
		return StartResponse{RemoteId: envelope.TestId}, nil
	}
	if present(envelope.Data) {
		var nested struct {
			TestId string `json:"testId"`
		}
		if err := json.Unmarshal(envelope.Data, &nested); err == nil && nested.TestId != "" {
			return StartResponse{RemoteId: nested.TestId}, nil
		}
		return StartResponse{Result: envelope.Data}, nil
	}
	if present(envelope.Results) {
		return StartResponse{Result: envelope.Results}, nil
	}
	return StartResponse{}, errors.WithStack(ErrEmptyResponse)
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
