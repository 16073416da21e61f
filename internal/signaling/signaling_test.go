package signaling

import (
	"encoding/json"
	"testing"
)

func TestDispatchFrameRequestExtractsLayerID(t *testing.T) {
	var got string
	c := &Client{OnFrameRequest: func(layerID string) { got = layerID }}
	c.dispatch(Envelope{Type: "frame-request", Payload: json.RawMessage(`{"layer_id":"preview"}`)})
	if got != "preview" {
		t.Fatalf("OnFrameRequest layerID = %q, want %q", got, "preview")
	}
}

func TestDispatchComponentReadyIgnoresPayload(t *testing.T) {
	called := false
	c := &Client{OnComponentReady: func() { called = true }}
	c.dispatch(Envelope{Type: "component-ready"})
	if !called {
		t.Fatal("expected OnComponentReady to be invoked")
	}
}

func TestDispatchViewportChangePassesRawPayloadThrough(t *testing.T) {
	var got json.RawMessage
	c := &Client{OnViewportChange: func(p json.RawMessage) { got = p }}
	payload := json.RawMessage(`{"x":0.1,"y":0.2,"w":1,"h":1,"zoom":1}`)
	c.dispatch(Envelope{Type: "viewport-change", Payload: payload})
	if string(got) != string(payload) {
		t.Fatalf("OnViewportChange payload = %s, want %s", got, payload)
	}
}

func TestDispatchWebRTCAnswerRoutesToHandler(t *testing.T) {
	var got json.RawMessage
	c := &Client{OnWebRTCAnswer: func(p json.RawMessage) { got = p }}
	payload := json.RawMessage(`{"layer_id":"live","answer":{}}`)
	c.dispatch(Envelope{Type: "webrtc-answer", Payload: payload})
	if string(got) != string(payload) {
		t.Fatalf("OnWebRTCAnswer payload = %s, want %s", got, payload)
	}
}

func TestDispatchUnknownTypeDoesNotPanicWithNoHandlersSet(t *testing.T) {
	c := &Client{}
	c.dispatch(Envelope{Type: "not-a-real-message-type"})
}

func TestDispatchFrameRequestMalformedPayloadSkipsHandler(t *testing.T) {
	called := false
	c := &Client{OnFrameRequest: func(layerID string) { called = true }}
	c.dispatch(Envelope{Type: "frame-request", Payload: json.RawMessage(`not-json`)})
	if called {
		t.Fatal("expected OnFrameRequest not to be invoked on malformed payload")
	}
}
