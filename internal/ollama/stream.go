package ollama

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Stream is a lazy, finite, non-restartable sequence of completion text
// fragments. Recv returns io.EOF after the model's done marker, after a
// terminal error fragment, or after Close. A caller that stops reading
// must still Close the stream to release the connection.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	pending string // terminal fragment queued before EOF
	done    bool
	closed  bool
}

func newStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{body: body, scanner: scanner}
}

// errorStream returns a stream that yields one error-marker fragment.
func errorStream(err error) *Stream {
	return &Stream{
		pending: fmt.Sprintf("%s %v]", streamErrorPrefix, err),
		done:    true,
	}
}

// Recv returns the next text fragment, or io.EOF when the stream has ended.
// Transport and parse failures are delivered as one in-band error-marker
// fragment followed by io.EOF, never as an error return.
func (s *Stream) Recv() (string, error) {
	if s.pending != "" {
		fragment := s.pending
		s.pending = ""
		return fragment, nil
	}
	if s.done || s.closed {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var resp chatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			s.terminate()
			return fmt.Sprintf("%s malformed fragment: %v]", streamErrorPrefix, err), nil
		}
		if resp.Done {
			s.terminate()
			if resp.Message.Content != "" {
				return resp.Message.Content, nil
			}
			return "", io.EOF
		}
		if resp.Message.Content != "" {
			return resp.Message.Content, nil
		}
	}

	// Scanner stopped: clean close or connection failure mid-stream.
	err := s.scanner.Err()
	s.terminate()
	if err != nil {
		return fmt.Sprintf("%s connection lost: %v]", streamErrorPrefix, err), nil
	}
	return "", io.EOF
}

// Close releases the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.terminate()
	return nil
}

func (s *Stream) terminate() {
	s.done = true
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}
