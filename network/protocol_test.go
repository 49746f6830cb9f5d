package network

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeHandshake(t *testing.T) {
	hs, err := DecodeHandshake([]byte(`{"player_id": 3, "name": "alice"}`))
	if err != nil {
		t.Fatalf("DecodeHandshake failed: %v", err)
	}
	if hs.PlayerID != 3 || hs.Name != "alice" {
		t.Errorf("Unexpected handshake %+v", hs)
	}
}

func TestDecodeHandshake_Failures(t *testing.T) {
	cases := map[string]error{
		`not json`:           ErrMalformedFrame,
		`{"name": "bob"}`:    ErrMissingPlayerID,
		`{"player_id": "x"}`: ErrMalformedFrame,
		`[1,2,3]`:            ErrMalformedFrame,
	}
	for input, want := range cases {
		if _, err := DecodeHandshake([]byte(input)); !errors.Is(err, want) {
			t.Errorf("DecodeHandshake(%s): expected %v, got %v", input, want, err)
		}
	}
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"id": "abc", "result": {"target_id": 4}}`))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if resp.ID != "abc" || resp.Error != nil {
		t.Errorf("Unexpected response %+v", resp)
	}
	var result struct {
		TargetID int `json:"target_id"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil || result.TargetID != 4 {
		t.Errorf("Unexpected result %s", resp.Result)
	}
}

func TestDecodeResponse_Error(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"id": "abc", "error": {"code": 1, "message": "nope"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Message != "nope" {
		t.Errorf("Expected error object, got %+v", resp)
	}

	resp, err = DecodeResponse([]byte(`{"id": "abc", "error": "boom"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil {
		t.Error("Expected a string error to be kept")
	}
}

func TestDecodeResponse_Unsolicited(t *testing.T) {
	if _, err := DecodeResponse([]byte(`{"type": "hello"}`)); !errors.Is(err, ErrNotAResponse) {
		t.Errorf("Expected ErrNotAResponse, got %v", err)
	}
	if _, err := DecodeResponse([]byte(`{{`)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame, got %v", err)
	}
}

func TestEncodeRequest(t *testing.T) {
	data, err := EncodeRequest("id-1", MethodVote, map[string]int{"day_number": 2})
	if err != nil {
		t.Fatal(err)
	}
	var req struct {
		Method string         `json:"method"`
		ID     string         `json:"id"`
		Params map[string]int `json:"params"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatal(err)
	}
	if req.Method != MethodVote || req.ID != "id-1" || req.Params["day_number"] != 2 {
		t.Errorf("Unexpected request %s", data)
	}

	data, _ = EncodeRequest("id-2", MethodGameOver, nil)
	if string(data) != `{"method":"game_over","params":{},"id":"id-2"}` {
		t.Errorf("Nil params should encode as an empty object, got %s", data)
	}
}

func TestAgentSideRoundTrip(t *testing.T) {
	frame, _ := EncodeRequest("id-3", MethodSeerAction, map[string]int{"night_numbers": 1})
	req, err := DecodeRequest(frame)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Method != MethodSeerAction || req.ID != "id-3" {
		t.Errorf("Unexpected request %+v", req)
	}

	out, _ := EncodeResult(req.ID, map[string]int{"target_id": 4})
	resp, err := DecodeResponse(out)
	if err != nil || resp.ID != "id-3" || string(resp.Result) != `{"target_id":4}` {
		t.Errorf("Unexpected response %s (%v)", out, err)
	}

	out, _ = EncodeError(req.ID, -32601, "unknown method")
	resp, _ = DecodeResponse(out)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Errorf("Expected error response, got %s", out)
	}

	if _, err := DecodeRequest([]byte(`{"id":"x"}`)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame for a request without method, got %v", err)
	}
}
