package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind is the value of a document's message_type field.
type Kind string

const (
	KindRegister Kind = "register"
	KindSendMsg  Kind = "sendmsg"
	KindFinished Kind = "finished"
	KindStatus   Kind = "status"
	KindStart    Kind = "start"
	KindShutdown Kind = "shutdown"
)

// MaxMillis is the largest send_time or total_time accepted on the wire:
// anything above it does not fit a time.Duration.
const MaxMillis = math.MaxInt64 / int64(time.Millisecond)

var (
	// ErrMalformed is returned when a payload is not a JSON object or carries
	// out-of-range values.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for a message_type outside the protocol.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField is returned when a known message lacks a required field.
	ErrMissingField = errors.New("missing required field")
)

// Message is implemented by every document the roles exchange.
// The set of implementations is closed to this package.
type Message interface {
	Kind() Kind
	isMessage()
}

// Register announces a worker listening on SenderPort.
type Register struct {
	SenderPort int
}

// SendMsg hands one work item to a worker.
type SendMsg struct {
	Phone string
	Msg   string
	MsgID int
}

// Finished reports the outcome of a SendMsg back to the coordinator.
// SendTime is in milliseconds.
type Finished struct {
	SenderPort int
	SendTime   int64
	Success    bool
}

// Latency returns SendTime as a Duration, clamped to [0, MaxMillis] ms.
func (f Finished) Latency() time.Duration {
	return millis(f.SendTime)
}

// StatusRequest asks the coordinator for its aggregate statistics.
type StatusRequest struct{}

// StatusReport carries the coordinator's aggregate statistics.
// TotalTime is the sum of successful send times in milliseconds.
type StatusReport struct {
	NumSent   int
	NumFail   int
	TotalTime int64
}

// Total returns TotalTime as a Duration, clamped to [0, MaxMillis] ms.
func (r StatusReport) Total() time.Duration {
	return millis(r.TotalTime)
}

func millis(ms int64) time.Duration {
	return time.Duration(min(max(ms, 0), MaxMillis)) * time.Millisecond
}

// Start tells the observer to begin polling.
type Start struct{}

// Shutdown asks the receiving role to stop.
type Shutdown struct{}

func (Register) Kind() Kind      { return KindRegister }
func (SendMsg) Kind() Kind       { return KindSendMsg }
func (Finished) Kind() Kind      { return KindFinished }
func (StatusRequest) Kind() Kind { return KindStatus }
func (StatusReport) Kind() Kind  { return KindStatus }
func (Start) Kind() Kind         { return KindStart }
func (Shutdown) Kind() Kind      { return KindShutdown }

func (Register) isMessage()      {}
func (SendMsg) isMessage()       {}
func (Finished) isMessage()      {}
func (StatusRequest) isMessage() {}
func (StatusReport) isMessage()  {}
func (Start) isMessage()         {}
func (Shutdown) isMessage()      {}

// envelope is the wire shape shared by all documents. Pointer fields
// distinguish an absent key from a zero value.
type envelope struct {
	SenderPort  *int    `json:"sender_port,omitempty"`
	MsgID       *int    `json:"msg_id,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Msg         *string `json:"msg,omitempty"`
	Success     *bool   `json:"success,omitempty"`
	SendTime    *int64  `json:"send_time,omitempty"`
	NumSent     *int    `json:"num_sent,omitempty"`
	NumFail     *int    `json:"num_fail,omitempty"`
	TotalTime   *int64  `json:"total_time,omitempty"`
	MessageType Kind    `json:"message_type"`
}

// Encode serializes msg into its canonical JSON document.
func Encode(msg Message) ([]byte, error) {
	env := envelope{}
	switch m := msg.(type) {
	case Register:
		env.SenderPort = &m.SenderPort
	case SendMsg:
		env.MsgID, env.Phone, env.Msg = &m.MsgID, &m.Phone, &m.Msg
	case Finished:
		env.SenderPort, env.Success, env.SendTime = &m.SenderPort, &m.Success, &m.SendTime
	case StatusReport:
		env.NumSent, env.NumFail, env.TotalTime = &m.NumSent, &m.NumFail, &m.TotalTime
	case StatusRequest, Start, Shutdown:
	case nil:
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
	env.MessageType = msg.Kind()
	return json.Marshal(env)
}

// Decode parses a single document. It returns ErrMalformed, ErrUnknownType
// or ErrMissingField (wrapped) for anything that is not a valid message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.MessageType {
	case KindRegister:
		if env.SenderPort == nil {
			return nil, missing(env.MessageType, "sender_port")
		}
		if !validPort(*env.SenderPort) {
			return nil, fmt.Errorf("%w: sender_port %d out of range", ErrMalformed, *env.SenderPort)
		}
		return Register{SenderPort: *env.SenderPort}, nil

	case KindSendMsg:
		switch {
		case env.MsgID == nil:
			return nil, missing(env.MessageType, "msg_id")
		case env.Phone == nil:
			return nil, missing(env.MessageType, "phone")
		case env.Msg == nil:
			return nil, missing(env.MessageType, "msg")
		}
		return SendMsg{MsgID: *env.MsgID, Phone: *env.Phone, Msg: *env.Msg}, nil

	case KindFinished:
		switch {
		case env.SenderPort == nil:
			return nil, missing(env.MessageType, "sender_port")
		case env.Success == nil:
			return nil, missing(env.MessageType, "success")
		case env.SendTime == nil:
			return nil, missing(env.MessageType, "send_time")
		}
		if !validPort(*env.SenderPort) {
			return nil, fmt.Errorf("%w: sender_port %d out of range", ErrMalformed, *env.SenderPort)
		}
		if *env.SendTime < 0 {
			return nil, fmt.Errorf("%w: negative send_time", ErrMalformed)
		}
		if *env.SendTime > MaxMillis {
			return nil, fmt.Errorf("%w: send_time %d out of range", ErrMalformed, *env.SendTime)
		}
		return Finished{SenderPort: *env.SenderPort, Success: *env.Success, SendTime: *env.SendTime}, nil

	case KindStatus:
		present := 0
		for _, set := range []bool{env.NumSent != nil, env.NumFail != nil, env.TotalTime != nil} {
			if set {
				present++
			}
		}
		switch present {
		case 0:
			return StatusRequest{}, nil
		case 3:
			if *env.NumSent < 0 || *env.NumFail < 0 || *env.TotalTime < 0 {
				return nil, fmt.Errorf("%w: negative status counter", ErrMalformed)
			}
			if *env.TotalTime > MaxMillis {
				return nil, fmt.Errorf("%w: total_time %d out of range", ErrMalformed, *env.TotalTime)
			}
			return StatusReport{NumSent: *env.NumSent, NumFail: *env.NumFail, TotalTime: *env.TotalTime}, nil
		default:
			return nil, missing(env.MessageType, "num_sent, num_fail and total_time")
		}

	case KindStart:
		return Start{}, nil

	case KindShutdown:
		return Shutdown{}, nil

	case "":
		return nil, missing("", "message_type")

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.MessageType)
	}
}

func missing(kind Kind, field string) error {
	if kind == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return fmt.Errorf("%w: %s requires %s", ErrMissingField, kind, field)
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
