package redis

import (
	"errors"
	"testing"
)

func TestDecodeEventValidPayload(t *testing.T) {
	event, err := decodeEvent([]byte(`{"process_name":"nginx","cpu_usage":12.5,"user":"www"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if event.ProcessName != "nginx" || event.CPUUsage != 12.5 || event.User != "www" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestDecodeEventMalformedPayload(t *testing.T) {
	payload := []byte(`{"process_name":`)
	_, err := decodeEvent(payload)

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if string(decodeErr.Payload) != string(payload) {
		t.Fatalf("payload not preserved: %q", decodeErr.Payload)
	}
	if decodeErr.Unwrap() == nil {
		t.Fatalf("expected wrapped cause")
	}
}
