package handshake

import (
	"bufio"
	"bytes"
	"testing"
)

func TestConnectRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	headers := NewHeaders()
	headers.Set("User-Agent", "gnutella-core/0.1")
	headers.Set("X-Ultrapeer", "True")

	if err := WriteConnectRequest(w, headers); err != nil {
		t.Fatalf("WriteConnectRequest: %v", err)
	}

	r := bufio.NewReader(&buf)
	got, err := ReadConnectRequest(r)
	if err != nil {
		t.Fatalf("ReadConnectRequest: %v", err)
	}
	if v, ok := got.Get("user-agent"); !ok || v != "gnutella-core/0.1" {
		t.Fatalf("User-Agent = %q, %v", v, ok)
	}
	if v, ok := got.Get("x-ultrapeer"); !ok || v != "True" {
		t.Fatalf("X-Ultrapeer = %q, %v", v, ok)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	headers := NewHeaders()
	headers.Set("Content-Encoding", "deflate")

	if err := WriteResponse(w, Response{Status: StatusOK, Headers: headers}); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	resp, err := ReadResponse(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Status != StatusOK {
		t.Fatalf("Status = %d, want 200", resp.Status)
	}
	if resp.Reason != "OK" {
		t.Fatalf("Reason = %q, want OK", resp.Reason)
	}
	if v, ok := resp.Headers.Get("content-encoding"); !ok || v != "deflate" {
		t.Fatalf("Content-Encoding = %q, %v", v, ok)
	}
}

func TestReadConnectRequestRejectsWrongLine(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("NOT GNUTELLA\r\n\r\n"))
	if _, err := ReadConnectRequest(r); err == nil {
		t.Fatal("ReadConnectRequest should reject a non-GNUTELLA connect line")
	}
}

func TestReadResponseRejectsMalformedStatusLine(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("garbage\r\n\r\n"))
	if _, err := ReadResponse(r); err == nil {
		t.Fatal("ReadResponse should reject a malformed status line")
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusOK, "OK"},
		{StatusAccepted, "Accepted"},
		{StatusForbidden, "Forbidden"},
		{StatusServiceUnavailable, "Service Unavailable"},
		{StatusShielded, "Shielded"},
	}
	for _, tt := range tests {
		if got := tt.status.reason(); got != tt.want {
			t.Errorf("Status(%d).reason() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
