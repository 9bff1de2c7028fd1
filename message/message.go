// Package message defines what travels between clients, the router and the
// e-computers.
//
// Message is the envelope for every request and reply. It gets serialized by
// the codec layer and wrapped in a protocol frame for transmission over TCP.
// Its Payload carries a JSON Task on the way in and a JSON Result on the way
// out, matching the task objects the experiment clients send.
package message

import "encoding/json"

// Reply statuses.
const (
	StatusOK         = "ok"          // e-computer finished the task
	StatusForwarded  = "forwarded"   // router routed the task and relays the result
	StatusNoEndpoint = "no_endpoint" // router found no destination for the function
	StatusError      = "error"       // the handler failed; see Error
)

// Message carries a single request or reply.
//
//   - On request: ClientID and Function are set, Payload is the JSON Task.
//   - On reply:   Status is set, Endpoint names the e-computer that served it,
//     Payload is the JSON Result, Error is non-empty if the call failed.
type Message struct {
	ClientID string
	Function string
	Endpoint string
	Status   string
	Error    string
	Payload  []byte
}

// Task is a unit of work submitted by a client.
type Task struct {
	ID   string `json:"id"`
	Size uint64 `json:"size"`
}

// Result is what an e-computer returns for a Task.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// NewRequest builds a request Message carrying task as JSON.
func NewRequest(clientID, function string, task Task) (*Message, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return &Message{ClientID: clientID, Function: function, Payload: payload}, nil
}

// Task decodes the request payload.
func (m *Message) Task() (Task, error) {
	var t Task
	err := json.Unmarshal(m.Payload, &t)
	return t, err
}

// Result decodes the reply payload.
func (m *Message) Result() (Result, error) {
	var r Result
	err := json.Unmarshal(m.Payload, &r)
	return r, err
}

// ErrorReply builds a reply that carries only a failure.
func ErrorReply(status, errMsg string) *Message {
	return &Message{Status: status, Error: errMsg}
}
