package lsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

// MaxContentLength bounds the body of one message.
const MaxContentLength = 64 << 20

// Server speaks the LSP base protocol (Content-Length framed JSON-RPC) over
// a reader and writer, typically stdin and stdout, for a single session.
type Server struct {
	session *Session

	// I/O
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex

	logger *slog.Logger
}

// NewServer creates a stdio server for session.
func NewServer(reader io.Reader, writer io.Writer, session *Session) *Server {
	return NewServerWithLogger(reader, writer, session, nil)
}

// NewServerWithLogger creates a stdio server with a custom logger.
func NewServerWithLogger(reader io.Reader, writer io.Writer, session *Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{
		session: session,
		reader:  bufio.NewReader(reader),
		writer:  writer,
		logger:  logger,
	}
}

// Run processes messages until the input ends, the client sends exit, or
// ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("cubelsp language server starting", "session", s.session.ID())

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if s.session.Exited() {
			return nil
		}

		body, err := s.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Info("Client disconnected")
				return nil
			}
			s.logger.Error("Error reading message", "error", err)
			continue
		}

		reply, err := s.session.HandleRaw(ctx, body)
		if err != nil {
			s.logger.Error("Error handling message", "error", err)
		}
		if reply != nil {
			if err := s.writeMessage(reply); err != nil {
				return err
			}
		}
	}
}

// readMessage reads one framed message body from the input stream.
func (s *Server) readMessage() ([]byte, error) {
	// Read headers
	var contentLength int
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			break // End of headers
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		contentLength, err = strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid Content-Length: %w", err)
		}
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}
	if contentLength > MaxContentLength {
		return nil, fmt.Errorf("message of %d bytes exceeds limit of %d bytes", contentLength, MaxContentLength)
	}

	// Read body
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(s.reader, body); err != nil {
		return nil, fmt.Errorf("error reading body: %w", err)
	}
	return body, nil
}

// writeMessage writes one framed message to the output stream.
func (s *Server) writeMessage(body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := io.WriteString(s.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := s.writer.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}
