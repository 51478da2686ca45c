// Package protocol defines the message types exchanged between wifimon
// frontends and the helper daemon.
//
// The protocol uses newline-delimited JSON (NDJSON) format over a UNIX socket.
// Each message is a single JSON object terminated by a newline character.
package protocol

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shini4i/wifimon/internal/stats"
	"github.com/shini4i/wifimon/internal/wifi"
)

// MessageType identifies the type of message.
type MessageType string

const (
	// MessageTypeRequest is sent from client to server.
	MessageTypeRequest MessageType = "request"
	// MessageTypeResponse is sent from server to client in reply to a request.
	MessageTypeResponse MessageType = "response"
	// MessageTypeEvent is broadcast from server to all connected clients.
	MessageTypeEvent MessageType = "event"
)

// Command identifies the operation to perform.
type Command string

const (
	// CommandScan lists visible Wi-Fi networks.
	CommandScan Command = "scan"
	// CommandConnect joins a network by BSSID.
	CommandConnect Command = "connect"
	// CommandInterfaces lists host network interfaces.
	CommandInterfaces Command = "interfaces"
	// CommandMonitorStart starts a throughput monitoring session.
	CommandMonitorStart Command = "monitor_start"
	// CommandMonitorStop stops a monitoring session.
	CommandMonitorStop Command = "monitor_stop"
	// CommandStatus reports the active monitoring sessions.
	CommandStatus Command = "status"
)

// EventName identifies the type of event.
type EventName string

const (
	// EventNetworkStats carries one throughput sample of a session.
	EventNetworkStats EventName = "network-stats"
	// EventMonitorStopped indicates a monitoring session ended.
	EventMonitorStopped EventName = "monitor_stopped"
	// EventError reports that a session keeps failing to read its counters.
	EventError EventName = "error"
)

// ConnectedMessage is the envelope message of a successful connect.
const ConnectedMessage = "Connected Successfully"

// Request represents a command sent from client to server.
type Request struct {
	// ID is a unique identifier for correlating responses.
	ID string `json:"id"`
	// Type is always "request".
	Type MessageType `json:"type"`
	// Command is the operation to perform.
	Command Command `json:"command"`
	// Params contains command-specific parameters.
	Params json.RawMessage `json:"params"`

	// ClientID identifies the connection the request arrived on. It is set
	// by the server and never travels on the wire; zero means no connection.
	ClientID uint64 `json:"-"`
}

// Response represents a reply from server to client.
type Response struct {
	// ID matches the request ID.
	ID string `json:"id"`
	// Type is always "response".
	Type MessageType `json:"type"`
	// Success indicates whether the command succeeded.
	Success bool `json:"success"`
	// Result contains command-specific result data (if Success is true).
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details (if Success is false).
	Error *ErrorInfo `json:"error,omitempty"`
}

// Event represents an asynchronous notification from server to clients.
type Event struct {
	// Type is always "event".
	Type MessageType `json:"type"`
	// Name identifies the event type.
	Name EventName `json:"name"`
	// Data contains event-specific information.
	Data json.RawMessage `json:"data"`
}

// Envelope is the uniform user-visible outcome of an operation.
type Envelope struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// ErrorInfo contains details about an error.
type ErrorInfo struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
	// Status is the HTTP-like display code (400, 401, 404, 500, 502).
	Status int `json:"status"`
	// Kind is the connect failure kind, set only for connect errors.
	Kind wifi.ConnectErrorKind `json:"kind,omitempty"`
	// Diagnostic is the raw tool output behind a connect failure.
	Diagnostic string `json:"diagnostic,omitempty"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Envelope returns the user-visible envelope of the error.
func (e *ErrorInfo) Envelope() Envelope {
	return Envelope{Message: e.Message, Status: e.Status}
}

// ConnectParams contains parameters for the connect command.
type ConnectParams struct {
	// BSSID is the access point hardware address.
	BSSID string `json:"bssid"`
	// Password is the optional credential; empty means none.
	Password string `json:"password,omitempty"`
}

// MonitorStartParams contains parameters for the monitor_start command.
type MonitorStartParams struct {
	// Interface is the interface to sample.
	Interface string `json:"interface"`
	// IntervalMillis overrides the configured poll interval when positive.
	IntervalMillis int64 `json:"interval_ms,omitempty"`
}

// MonitorStopParams identifies a session by id or by interface.
type MonitorStopParams struct {
	SessionID string `json:"session_id,omitempty"`
	Interface string `json:"interface,omitempty"`
}

// ScanResult contains the result of a scan.
type ScanResult struct {
	Networks []wifi.Network `json:"networks"`
}

// InterfacesResult contains the result of an interfaces query.
type InterfacesResult struct {
	Interfaces []string `json:"interfaces"`
}

// MonitorStartResult contains the result of monitor_start.
type MonitorStartResult struct {
	SessionID string `json:"session_id"`
	Interface string `json:"interface"`
	Envelope
}

// SessionInfo describes an active monitoring session.
type SessionInfo struct {
	SessionID string        `json:"session_id"`
	Interface string        `json:"interface"`
	Interval  time.Duration `json:"interval"`
	StartedAt time.Time     `json:"started_at"`
}

// StatusResult contains the result of a status query.
type StatusResult struct {
	// Version is the helper build version.
	Version string `json:"version"`
	// ClassifierVersion names the connect failure pattern table in use.
	ClassifierVersion string `json:"classifier_version"`
	// Sessions lists active monitoring sessions.
	Sessions []SessionInfo `json:"sessions"`
}

// StatsData contains data for network-stats events.
type StatsData struct {
	SessionID string `json:"session_id"`
	stats.NetworkStats
}

// MonitorStoppedData contains data for monitor_stopped events.
type MonitorStoppedData struct {
	SessionID string `json:"session_id"`
	Interface string `json:"interface"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorData contains data for error events.
type ErrorData struct {
	SessionID string `json:"session_id,omitempty"`
	Interface string `json:"interface,omitempty"`
	// Message is the error description.
	Message string `json:"message"`
}

// NewRequest creates a new request with the given command and parameters.
func NewRequest(id string, cmd Command, params interface{}) (*Request, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{
		ID:      id,
		Type:    MessageTypeRequest,
		Command: cmd,
		Params:  paramsJSON,
	}, nil
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result interface{}) (*Response, error) {
	var resultJSON json.RawMessage
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		ID:      id,
		Type:    MessageTypeResponse,
		Success: true,
		Result:  resultJSON,
	}, nil
}

// NewErrorResponse creates an error response with the code's default status.
func NewErrorResponse(id string, code string, message string) *Response {
	return NewErrorInfoResponse(id, &ErrorInfo{
		Code:    code,
		Message: message,
		Status:  StatusForCode(code),
	})
}

// NewErrorInfoResponse creates an error response carrying info as-is.
func NewErrorInfoResponse(id string, info *ErrorInfo) *Response {
	return &Response{
		ID:      id,
		Type:    MessageTypeResponse,
		Success: false,
		Error:   info,
	}
}

// NewConnectErrorInfo converts a connect failure into wire form.
func NewConnectErrorInfo(ce *wifi.ConnectError) *ErrorInfo {
	return &ErrorInfo{
		Code:       ErrCodeConnectFailed,
		Message:    ce.Kind.Message(),
		Status:     ce.Kind.Status(),
		Kind:       ce.Kind,
		Diagnostic: ce.Diagnostic,
	}
}

// ConnectedEnvelope is the envelope of a successful connect.
func ConnectedEnvelope() Envelope {
	return Envelope{Message: ConnectedMessage, Status: http.StatusOK}
}

// NewEvent creates a new event with the given name and data.
func NewEvent(name EventName, data interface{}) (*Event, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type: MessageTypeEvent,
		Name: name,
		Data: dataJSON,
	}, nil
}
