package relay

import (
	"time"

	"github.com/caprica/lircj/internal/lircd"
)

type MessageType string

const (
	MsgButton MessageType = "button"
	MsgHello  MessageType = "hello"
)

type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type ButtonPayload struct {
	Button string    `json:"button"`
	Remote string    `json:"remote"`
	Repeat int       `json:"repeat"`
	Time   time.Time `json:"time"`
}

// HelloPayload is sent once to each client right after it connects.
type HelloPayload struct {
	Socket          string `json:"socket"`
	RepeatThreshold int    `json:"repeatThreshold"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Socket          string          `json:"socket"`
	State           string          `json:"state"`
	RepeatThreshold int             `json:"repeatThreshold"`
	Listeners       int             `json:"listeners"`
	RelayClients    int             `json:"relayClients"`
	Processes       []lircd.Process `json:"processes"`
	ProcessError    string          `json:"processError,omitempty"`
}
