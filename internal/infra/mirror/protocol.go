// Package mirror is the remote document mirror: a websocket client that
// implements domain.RemoteMirror for synchronized slices, an offline
// stand-in, and the server those clients connect to.
//
// Wire format (JSON text frames):
//
//	client → server  {"type":"subscribe","key":"eden-v2-flats"}
//	client → server  {"type":"unsubscribe","key":"eden-v2-flats"}
//	client → server  {"type":"push","key":"eden-v2-flats","doc":{"value":[...]}}
//	server → client  {"type":"change","key":"eden-v2-flats","doc":{"value":[...]},"origin":"<client id>"}
//	server → client  {"type":"error","key":"...","error":"..."}
//
// A change is sent to every subscriber of the key, the pushing client
// included, so clients observe the echo of their own writes.
package mirror

import "encoding/json"

// FrameType discriminates websocket frames.
type FrameType string

const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FramePush        FrameType = "push"
	FrameChange      FrameType = "change"
	FrameError       FrameType = "error"
)

// Document is the remote representation of one slice.
type Document struct {
	Value json.RawMessage `json:"value"`
}

// Frame is one websocket message.
type Frame struct {
	Type   FrameType `json:"type"`
	Key    string    `json:"key"`
	Doc    *Document `json:"doc,omitempty"`
	Origin string    `json:"origin,omitempty"`
	Error  string    `json:"error,omitempty"`
}
