package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"

	mboxlib "github.com/emersion/go-mbox"
)

var fromPrefix = []byte("From ")

// Segmenter splits an mbox stream into raw messages. Every input byte ends
// up in exactly one message: the envelope "From " line stays at the top of
// the message it introduces and nothing is unescaped.
type Segmenter struct {
	r     *bufio.Reader
	carry []byte
	seen  bool
	read  int64
	err   error
}

func NewSegmenter(r io.Reader) *Segmenter {
	return &Segmenter{r: bufio.NewReaderSize(r, 256*1024)}
}

// Next returns the next raw message. It returns io.EOF once the stream is
// exhausted; any other error is a read failure of the underlying stream.
func (s *Segmenter) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}

	msg := s.carry
	s.carry = nil
	for {
		line, err := s.r.ReadBytes('\n')
		if len(line) > 0 {
			s.read += int64(len(line))
			if s.seen && bytes.HasPrefix(line, fromPrefix) {
				s.carry = line
				return msg, nil
			}
			s.seen = true
			msg = append(msg, line...)
		}
		if errors.Is(err, io.EOF) {
			s.err = io.EOF
			if len(msg) > 0 {
				return msg, nil
			}
			return nil, io.EOF
		}
		if err != nil {
			s.err = fmt.Errorf("read mbox: %w", err)
			return nil, s.err
		}
	}
}

// BytesRead reports how many input bytes belong to the messages returned
// so far. The envelope line held back for the next message is not counted.
func (s *Segmenter) BytesRead() int64 {
	return s.read - int64(len(s.carry))
}

// MboxMessage represents a single message from an mbox file for stats.
type MboxMessage struct {
	Headers mail.Header
	Body    []byte
}

// Read opens an mbox file and iterates through its messages,
// calling the provided callback for each message.
func Read(path string, callback func(m *MboxMessage) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	return ReadFrom(file, callback)
}

// ReadFrom is Read over an already opened stream. Messages whose headers
// cannot be parsed are skipped.
func ReadFrom(r io.Reader, callback func(m *MboxMessage) error) error {
	reader := mboxlib.NewReader(r)
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		msg, err := mail.ReadMessage(msgReader)
		if err != nil {
			// try to continue
			continue
		}

		body, err := io.ReadAll(msg.Body)
		if err != nil {
			continue
		}

		if err := callback(&MboxMessage{Headers: msg.Header, Body: body}); err != nil {
			return err
		}
	}
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	return Count(file)
}

// Count counts the messages of an mbox stream.
func Count(r io.Reader) (int, error) {
	reader := mboxlib.NewReader(r)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// Just consume the message without parsing
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return 0, err
		}
		count++
	}
}
