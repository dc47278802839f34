// Package handshake implements the 0.6 Gnutella handshake: CRLF-delimited
// text headers exchanged before a session switches to the binary wire
// protocol.
package handshake

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/simeonmiteff/gnutella-core/pkg/corerr"
)

// ConnectLine is the first line an outbound peer writes.
const ConnectLine = "GNUTELLA CONNECT/0.6"

// responseLinePrefix precedes every status line, inbound or outbound.
const responseLinePrefix = "GNUTELLA/0.6"

// Status is a handshake response status code.
type Status int

const (
	StatusOK                  Status = 200
	StatusAccepted            Status = 202
	StatusAlreadyConnected    Status = 203
	StatusNoContent           Status = 204
	StatusUnauthorized        Status = 401
	StatusForbidden           Status = 403
	StatusNotAcceptable       Status = 406
	StatusConflict            Status = 409
	StatusPayloadTooLarge     Status = 413
	StatusServiceUnavailable  Status = 503
	StatusVersionNotSupported Status = 505
	StatusShielded            Status = 550
)

func (s Status) reason() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusAccepted:
		return "Accepted"
	case StatusAlreadyConnected:
		return "Already connected"
	case StatusNoContent:
		return "No content"
	case StatusUnauthorized:
		return "Unauthorized"
	case StatusForbidden:
		return "Forbidden"
	case StatusNotAcceptable:
		return "Not Acceptable"
	case StatusConflict:
		return "Conflict"
	case StatusPayloadTooLarge:
		return "Payload Too Large"
	case StatusServiceUnavailable:
		return "Service Unavailable"
	case StatusVersionNotSupported:
		return "Version Not Supported"
	case StatusShielded:
		return "Shielded"
	default:
		return "Unknown"
	}
}

// Headers is a case-insensitive handshake header table. It keeps each
// header's name as first added and writes headers sorted by that name, so
// responses are written deterministically.
type Headers struct {
	order []string
	byKey map[string]string
}

// NewHeaders constructs an empty header table.
func NewHeaders() *Headers {
	return &Headers{byKey: make(map[string]string)}
}

// Set adds or replaces a header value.
func (h *Headers) Set(key, value string) {
	ck := strings.ToLower(key)
	if _, exists := h.byKey[ck]; !exists {
		h.order = append(h.order, key)
	}
	h.byKey[ck] = value
}

// Get returns a header's value (case-insensitive) and whether it was set.
func (h *Headers) Get(key string) (string, bool) {
	v, ok := h.byKey[strings.ToLower(key)]
	return v, ok
}

// Response is a parsed or to-be-sent handshake status line plus headers.
type Response struct {
	Status  Status
	Reason  string
	Headers *Headers
}

// WriteConnectRequest writes the outbound "GNUTELLA CONNECT/0.6" line and
// headers to w, terminated by a blank line per the protocol.
func WriteConnectRequest(w *bufio.Writer, headers *Headers) error {
	if _, err := w.WriteString(ConnectLine + "\r\n"); err != nil {
		return corerr.Wrap(corerr.Transport, err, "writing connect line")
	}
	return writeHeadersAndFlush(w, headers)
}

// WriteResponse writes a "GNUTELLA/0.6 <code> <reason>" status line and
// headers to w.
func WriteResponse(w *bufio.Writer, resp Response) error {
	reason := resp.Reason
	if reason == "" {
		reason = resp.Status.reason()
	}
	line := fmt.Sprintf("%s %d %s\r\n", responseLinePrefix, int(resp.Status), reason)
	if _, err := w.WriteString(line); err != nil {
		return corerr.Wrap(corerr.Transport, err, "writing status line")
	}
	return writeHeadersAndFlush(w, resp.Headers)
}

func writeHeadersAndFlush(w *bufio.Writer, headers *Headers) error {
	if headers != nil {
		keys := append([]string(nil), headers.order...)
		sort.Strings(keys)
		for _, k := range keys {
			v, _ := headers.Get(k)
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, v); err != nil {
				return corerr.Wrap(corerr.Transport, err, "writing header %q", k)
			}
		}
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return corerr.Wrap(corerr.Transport, err, "writing terminating blank line")
	}
	return w.Flush()
}

// ReadConnectRequest reads and validates the inbound "GNUTELLA CONNECT/0.6"
// line followed by headers terminated by a blank line.
func ReadConnectRequest(r *bufio.Reader) (*Headers, error) {
	line, err := readCRLFLine(r)
	if err != nil {
		return nil, err
	}
	if line != ConnectLine {
		return nil, corerr.New(corerr.Protocol, "unexpected connect line: %q", line)
	}
	return readHeaders(r)
}

// ReadResponse reads and parses a "GNUTELLA/0.6 <code> <reason>" status
// line followed by headers.
func ReadResponse(r *bufio.Reader) (Response, error) {
	line, err := readCRLFLine(r)
	if err != nil {
		return Response{}, err
	}
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 || fields[0] != responseLinePrefix {
		return Response{}, corerr.New(corerr.Protocol, "malformed status line: %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return Response{}, corerr.Wrap(corerr.Protocol, err, "malformed status code in %q", line)
	}
	reason := ""
	if len(fields) == 3 {
		reason = fields[2]
	}
	headers, err := readHeaders(r)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: Status(code), Reason: reason, Headers: headers}, nil
}

func readHeaders(r *bufio.Reader) (*Headers, error) {
	headers := NewHeaders()
	for {
		line, err := readCRLFLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return headers, nil
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, corerr.New(corerr.Protocol, "malformed header line: %q", line)
		}
		headers.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
}

func readCRLFLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", corerr.Wrap(corerr.Transport, err, "reading handshake line")
	}
	return strings.TrimRight(line, "\r\n"), nil
}
