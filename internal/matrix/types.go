package matrix

import (
	"net/http"
	"time"
)

// Client-server API paths.
const (
	pathLogin = "/_matrix/client/v3/login"
	pathSync  = "/_matrix/client/v3/sync"
	pathJoin  = "/_matrix/client/v3/join/"
	pathRooms = "/_matrix/client/v3/rooms/"
)

// Response is the result of one API call: status, raw body and headers.
// Callers decode the body themselves.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// LoginRequest carries password-login credentials.
type LoginRequest struct {
	User       string
	Password   string
	DeviceName string
}

// String never includes the password.
func (r LoginRequest) String() string {
	return "LoginRequest{User:" + r.User + ", Password:***}"
}

type loginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type loginBody struct {
	Type                     string          `json:"type"`
	Identifier               loginIdentifier `json:"identifier"`
	Password                 string          `json:"password"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
}

// SyncParams are the query parameters of one /sync call.
type SyncParams struct {
	Since     string // omitted when empty
	Timeout   time.Duration
	FullState bool
}

// MessageContent is the body of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// Message types.
const (
	MsgText   = "m.text"
	MsgNotice = "m.notice"
)
