package network

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Methods the server calls on agents.
const (
	MethodInitialize     = "initialize"
	MethodWerewolfAction = "werewolf_action"
	MethodSeerAction     = "seer_action"
	MethodWitchAction    = "witch_action"
	MethodHunterAction   = "hunter_action"
	MethodGuardAction    = "guard_action"
	MethodDiscuss        = "discuss"
	MethodVote           = "vote"
	MethodDefend         = "defend"
	MethodGameOver       = "game_over"
)

var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrMissingPlayerID = errors.New("handshake missing player_id")
	ErrNotAResponse    = errors.New("frame is not a response")
)

// Handshake is the first frame an agent sends on a new connection.
type Handshake struct {
	PlayerID int    `json:"player_id"`
	Name     string `json:"name,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Request is a server-to-agent call.
type Request struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
	ID     string      `json:"id"`
}

// RPCError is the error object of a failed response.
type RPCError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("agent error %d: %s", e.Code, e.Message)
}

// Response is an agent reply, carrying exactly one of Result or Error.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

func DecodeHandshake(data []byte) (*Handshake, error) {
	var raw struct {
		PlayerID *int   `json:"player_id"`
		Name     string `json:"name"`
		Token    string `json:"token"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if raw.PlayerID == nil {
		return nil, ErrMissingPlayerID
	}
	return &Handshake{PlayerID: *raw.PlayerID, Name: raw.Name, Token: raw.Token}, nil
}

// DecodeResponse parses a frame read after the handshake. Frames without an
// id are unsolicited and reported with ErrNotAResponse.
func DecodeResponse(data []byte) (*Response, error) {
	var raw struct {
		ID     *string         `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if raw.ID == nil || *raw.ID == "" {
		return nil, ErrNotAResponse
	}
	resp := &Response{ID: *raw.ID, Result: raw.Result}
	if len(raw.Error) > 0 && string(raw.Error) != "null" {
		rpcErr := &RPCError{}
		if err := json.Unmarshal(raw.Error, rpcErr); err != nil {
			// Agents may send a bare string as the error.
			rpcErr.Message = string(raw.Error)
		}
		resp.Error = rpcErr
		resp.Result = nil
	}
	return resp, nil
}

func EncodeRequest(id, method string, params interface{}) ([]byte, error) {
	if params == nil {
		params = struct{}{}
	}
	return json.Marshal(Request{Method: method, Params: params, ID: id})
}

// IncomingRequest is a request as an agent decodes it.
type IncomingRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

func DecodeRequest(data []byte) (*IncomingRequest, error) {
	var req IncomingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if req.Method == "" || req.ID == "" {
		return nil, fmt.Errorf("%w: request needs method and id", ErrMalformedFrame)
	}
	return &req, nil
}

func EncodeResult(id string, result interface{}) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Response{ID: id, Result: raw})
}

func EncodeError(id string, code int, message string) ([]byte, error) {
	return json.Marshal(Response{ID: id, Error: &RPCError{Code: code, Message: message}})
}
