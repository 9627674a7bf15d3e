package server

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/eliteGoblin/camelpad/internal/domain"
)

// Message types on the wire.
const (
	TypeNotification = "notification"
	TypeTest         = "test"
	TypeMessage      = "message"
	TypeStatus       = "status"
	TypeResponse     = "response"
	TypeError        = "error"
)

// Inbound is a client request. Notification, test and message requests
// queue a prompt; status asks for the bridge state.
type Inbound struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Text      string `json:"text,omitempty"`
	Category  string `json:"category,omitempty"`
	TimeoutMs *int   `json:"timeoutMs,omitempty"`
}

// Response answers a prompt with the action bound to the gesture.
type Response struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Action string `json:"action"`
	Label  string `json:"label"`
}

// ErrorReply settles a request that failed.
type ErrorReply struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// StatusReply answers a status request.
type StatusReply struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Pending   int    `json:"pending"`
	Device    string `json:"device,omitempty"`
	Active    string `json:"active,omitempty"`
}

// Envelope decodes any outbound message; fields not used by Type are empty.
type Envelope struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Action    string `json:"action,omitempty"`
	Label     string `json:"label,omitempty"`
	Error     string `json:"error,omitempty"`
	Connected bool   `json:"connected,omitempty"`
	Pending   int    `json:"pending,omitempty"`
	Device    string `json:"device,omitempty"`
	Active    string `json:"active,omitempty"`
}

var (
	errMissingID   = errors.New("missing id")
	errMissingText = errors.New("missing text")
	errBadTimeout  = errors.New("timeoutMs must not be negative")
	errTimeoutSize = fmt.Errorf("timeoutMs must not exceed %d", maxTimeoutMs)
)

// maxTimeoutMs is the largest timeout a time.Duration can hold.
const maxTimeoutMs = math.MaxInt64 / int64(time.Millisecond)

// isPrompt reports whether t queues a prompt.
func isPrompt(t string) bool {
	switch t {
	case TypeNotification, TypeTest, TypeMessage:
		return true
	}
	return false
}

// validate checks a prompt request.
func (m Inbound) validate() error {
	if m.ID == "" {
		return errMissingID
	}
	if m.Text == "" {
		return errMissingText
	}
	if m.TimeoutMs != nil {
		if *m.TimeoutMs < 0 {
			return errBadTimeout
		}
		if int64(*m.TimeoutMs) > maxTimeoutMs {
			return errTimeoutSize
		}
	}
	return nil
}

// request converts a validated prompt message. An explicit timeoutMs of
// zero means no deadline; an absent one uses the configured default.
func (m Inbound) request() domain.Request {
	req := domain.Request{
		RequestID: m.ID,
		Text:      m.Text,
		Category:  m.Category,
	}
	if m.TimeoutMs != nil {
		if *m.TimeoutMs == 0 {
			req.NoDeadline = true
		} else {
			req.Timeout = time.Duration(*m.TimeoutMs) * time.Millisecond
		}
	}
	return req
}

// replyFor converts a settled prompt into its wire message.
func replyFor(r domain.Reply) any {
	if r.Err != nil {
		return ErrorReply{Type: TypeError, ID: r.RequestID, Error: r.Err.Error()}
	}
	return Response{Type: TypeResponse, ID: r.RequestID, Action: r.Action, Label: r.Label}
}

func statusFor(id string, st domain.BridgeStatus) StatusReply {
	out := StatusReply{
		Type:      TypeStatus,
		ID:        id,
		Connected: st.Connected,
		Pending:   st.Pending,
	}
	if st.Device != nil {
		out.Device = st.Device.Product
		if out.Device == "" {
			out.Device = st.Device.Path
		}
	}
	if st.Active != nil {
		out.Active = st.Active.Text
	}
	return out
}

func errorReply(id string, err error) ErrorReply {
	return ErrorReply{Type: TypeError, ID: id, Error: err.Error()}
}

func unknownType(t string) error {
	return fmt.Errorf("unknown message type %q", t)
}
