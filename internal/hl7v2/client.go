package hl7v2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// MLLP frame characters (Minimal Lower Layer Protocol)
const (
	MLLPStartBlock = 0x0B // Vertical Tab (VT)
	MLLPEndBlock   = 0x1C // File Separator (FS)
	MLLPCarriageR  = 0x0D // Carriage Return (CR)
)

// FailureClass distinguishes terminal transport failure modes. A refused
// connection and a timeout are different operational problems and are
// reported as such.
type FailureClass string

const (
	FailureNone              FailureClass = ""
	FailureTimeout           FailureClass = "timeout"
	FailureConnectionRefused FailureClass = "connection_refused"
	FailureDNS               FailureClass = "dns"
	FailureProtocol          FailureClass = "protocol"
)

// SendResult is the outcome of a single MLLP send attempt
type SendResult struct {
	Accepted bool         `json:"accepted"`
	AckText  string       `json:"ack_text,omitempty"`
	Failure  FailureClass `json:"failure,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// Sender sends one HL7 message and reports the ACK outcome. The session
// manager depends on this interface so tests can fake the downstream.
type Sender interface {
	Send(ctx context.Context, message string) *SendResult
}

// Client is an MLLP client that opens a fresh TCP connection per message.
// Connections are never pooled: each send owns, uses and closes its own
// socket, so a stuck listener cannot wedge subsequent unrelated sends.
type Client struct {
	host    string
	port    int
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates a new MLLP client
func NewClient(host string, port int, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		host:    host,
		port:    port,
		timeout: timeout,
		logger:  logger,
	}
}

// Send frames the message, transmits it and waits for an ACK bounded by the
// configured timeout. The result is always terminal for this attempt; retry
// policy belongs to the caller.
func (c *Client) Send(ctx context.Context, message string) *SendResult {
	address := net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))

	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		res := classifyDialError(err)
		c.logger.Warn("mllp connect failed",
			zap.String("address", address),
			zap.String("failure", string(res.Failure)),
			zap.Error(err))
		return res
	}
	defer conn.Close()

	frame := Frame(message)

	if err := conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return &SendResult{Failure: FailureProtocol, Reason: fmt.Sprintf("set write deadline: %v", err)}
	}
	if _, err := conn.Write(frame); err != nil {
		return &SendResult{Failure: FailureProtocol, Reason: fmt.Sprintf("send failed: %v", err)}
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return &SendResult{Failure: FailureProtocol, Reason: fmt.Sprintf("set read deadline: %v", err)}
	}

	raw, err := readFrame(conn)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return &SendResult{
				Failure: FailureTimeout,
				Reason:  fmt.Sprintf("no ACK received within %s", c.timeout),
			}
		}
		return &SendResult{Failure: FailureProtocol, Reason: fmt.Sprintf("read failed: %v", err)}
	}
	if len(raw) == 0 {
		return &SendResult{
			Failure: FailureProtocol,
			Reason:  "connection closed before acknowledgment",
		}
	}

	return ClassifyAck(string(raw))
}

// Ping probes downstream reachability with a bare TCP connect
func (c *Client) Ping(ctx context.Context) error {
	address := net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Frame wraps a message in the MLLP envelope. Line breaks are converted to
// the HL7 segment terminator and any stray framing control bytes in the
// payload are dropped so the envelope stays unambiguous on the wire.
func Frame(message string) []byte {
	normalized := strings.ReplaceAll(message, "\r\n", SegmentTerminator)
	normalized = strings.ReplaceAll(normalized, "\n", SegmentTerminator)

	payload := make([]byte, 0, len(normalized)+3)
	payload = append(payload, MLLPStartBlock)
	for _, b := range []byte(normalized) {
		if b == MLLPStartBlock || b == MLLPEndBlock {
			continue
		}
		payload = append(payload, b)
	}
	payload = append(payload, MLLPEndBlock, MLLPCarriageR)
	return payload
}

// ClassifyAck strips MLLP framing from a raw response and classifies it.
// The message is accepted only when the decoded text carries an AA
// (application accept) or CA (commit accept) code; anything else is a
// rejection and the raw text is preserved verbatim for diagnostics.
func ClassifyAck(raw string) *SendResult {
	text := strings.Trim(raw, string([]byte{MLLPStartBlock, MLLPEndBlock, MLLPCarriageR}))
	if strings.Contains(text, "AA") || strings.Contains(text, "CA") {
		return &SendResult{Accepted: true, AckText: text}
	}
	return &SendResult{
		AckText: text,
		Failure: FailureProtocol,
		Reason:  "message rejected by receiver",
	}
}

// readFrame reads bytes until the MLLP end block or EOF
func readFrame(conn net.Conn) ([]byte, error) {
	buf := make([]byte, 4096)
	var message []byte

	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			if buf[i] == MLLPEndBlock {
				return message, nil
			}
			message = append(message, buf[i])
		}
		if err != nil {
			if err == io.EOF {
				return message, nil
			}
			return nil, err
		}
	}
}

func classifyDialError(err error) *SendResult {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &SendResult{
			Failure: FailureConnectionRefused,
			Reason:  "connection refused: check the downstream listener is running",
		}
	case errors.As(err, &dnsErr):
		return &SendResult{
			Failure: FailureDNS,
			Reason:  fmt.Sprintf("cannot resolve downstream host: %v", err),
		}
	default:
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return &SendResult{
				Failure: FailureTimeout,
				Reason:  fmt.Sprintf("connect timed out: %v", err),
			}
		}
		return &SendResult{
			Failure: FailureProtocol,
			Reason:  fmt.Sprintf("connect failed: %v", err),
		}
	}
}
