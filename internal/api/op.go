package api

import "encoding/json"

// ClientOp is an operation a browser sends over the chat WebSocket.
type ClientOp string

const (
	OpHeartbeat ClientOp = "heartbeat"
	OpActivate  ClientOp = "activate"
	OpSend      ClientOp = "send"
	OpResync    ClientOp = "resync"
)

func (o ClientOp) String() string {
	return string(o)
}

// ServerOp is an event pushed to the browser.
type ServerOp string

const (
	OpHeartbeatAck ServerOp = "heartbeat_ack"
	OpUpdate       ServerOp = "update"
	OpSendFailed   ServerOp = "send_failed"
	OpError        ServerOp = "error"
	OpView         ServerOp = "view"
)

func (o ServerOp) String() string {
	return string(o)
}

type inboundEvent struct {
	Op   ClientOp        `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

type outboundEvent struct {
	Op   ServerOp `json:"op"`
	Data any      `json:"d,omitempty"`
}

type activateData struct {
	ChannelID string `json:"channel_id"`
}

type sendData struct {
	Text string `json:"text"`
}

// sendFailedData returns the rejected text so the client can keep it in the input.
type sendFailedData struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

type errorData struct {
	Op    ClientOp `json:"op"`
	Error string   `json:"error"`
}
