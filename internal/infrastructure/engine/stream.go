package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tablehub/tablehub/internal/application/narration"
)

const maxEventSize = 1 << 20

// stream decodes server-sent events into engine events.
type stream struct {
	body    io.ReadCloser
	cancel  context.CancelFunc
	reader  *bufio.Reader
	handle  string
	done    bool
	pending []narration.EngineEvent
}

func newStream(body io.ReadCloser, cancel context.CancelFunc) *stream {
	return &stream{body: body, cancel: cancel, reader: bufio.NewReaderSize(body, 64*1024)}
}

func (s *stream) Recv() (narration.EngineEvent, error) {
	for len(s.pending) == 0 {
		if s.done {
			return narration.EngineEvent{}, io.EOF
		}
		data, err := s.next()
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				// the body ended before response.completed
				return narration.EngineEvent{}, io.ErrUnexpectedEOF
			}
			return narration.EngineEvent{}, err
		}
		if err := s.decode(data); err != nil {
			s.done = true
			return narration.EngineEvent{}, err
		}
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

func (s *stream) Close() error {
	s.cancel()
	return s.body.Close()
}

// next returns the data payload of the next event, joining multi-line data.
func (s *stream) next() (string, error) {
	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" && data.Len() > 0 {
			return data.String(), nil
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(value, " "))
			if data.Len() > maxEventSize {
				return "", fmt.Errorf("engine event exceeds %d bytes", maxEventSize)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && data.Len() > 0 {
				return data.String(), nil
			}
			return "", err
		}
	}
}

func (s *stream) decode(data string) error {
	if data == "[DONE]" {
		s.done = true
		return nil
	}
	if !gjson.Valid(data) {
		return fmt.Errorf("engine sent malformed event")
	}
	ev := gjson.Parse(data)
	switch ev.Get("type").String() {
	case "response.created":
		s.handle = ev.Get("response.id").String()
	case "response.output_text.delta":
		if delta := ev.Get("delta").String(); delta != "" {
			s.pending = append(s.pending, narration.EngineEvent{Kind: narration.EngineTextDelta, Text: delta})
		}
	case "response.output_item.done":
		item := ev.Get("item")
		if item.Get("type").String() != "function_call" {
			return nil
		}
		s.pending = append(s.pending, narration.EngineEvent{
			Kind: narration.EngineToolCall,
			Call: narration.ToolCall{
				ID:    item.Get("call_id").String(),
				Name:  item.Get("name").String(),
				Input: []byte(item.Get("arguments").String()),
			},
		})
	case "response.completed":
		if id := ev.Get("response.id").String(); id != "" {
			s.handle = id
		}
		s.pending = append(s.pending, narration.EngineEvent{
			Kind:   narration.EngineCompleted,
			Handle: s.handle,
			Text:   ev.Get("response.output_text").String(),
		})
		s.done = true
	case "response.failed", "response.incomplete":
		msg := ev.Get("response.error.message").String()
		if msg == "" {
			msg = ev.Get("response.incomplete_details.reason").String()
		}
		return fmt.Errorf("engine response %s: %s", strings.TrimPrefix(ev.Get("type").String(), "response."), msg)
	case "error":
		return fmt.Errorf("engine error: %s", ev.Get("message").String())
	}
	return nil
}
