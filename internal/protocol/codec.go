package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

var (
	ErrMalformed     = errors.New("malformed result line")
	ErrMissingTicket = errors.New("result line has no ticket")
	ErrUnknownVerb   = errors.New("unknown verb")
)

// Encode renders cmd as one newline-terminated request line stamped with
// ticket: {"cmd":<verb>,"ticket":<n>,<fields>}.
func Encode(ticket uint64, cmd Command) ([]byte, error) {
	body, err := sonic.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Verb(), err)
	}
	if len(body) < 2 || body[0] != '{' || body[len(body)-1] != '}' {
		return nil, fmt.Errorf("encode %s: command is not an object", cmd.Verb())
	}

	line := make([]byte, 0, len(body)+48)
	line = append(line, `{"cmd":`...)
	line = strconv.AppendQuote(line, string(cmd.Verb()))
	line = append(line, `,"ticket":`...)
	line = strconv.AppendUint(line, ticket, 10)
	if fields := body[1 : len(body)-1]; len(bytes.TrimSpace(fields)) > 0 {
		line = append(line, ',')
		line = append(line, fields...)
	}
	line = append(line, '}', '\n')
	return line, nil
}

// ParseResult parses one reply line. Lines that are not a JSON object with a
// status fail with ErrMalformed; lines without a ticket fail with
// ErrMissingTicket and still return the parsed result.
func ParseResult(line []byte) (*Result, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	raw := make([]byte, len(line))
	copy(raw, line)

	res := &Result{raw: raw}
	if err := sonic.Unmarshal(raw, res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if res.Status == "" {
		return nil, fmt.Errorf("%w: no result status", ErrMalformed)
	}
	if res.Ticket == nil {
		return res, ErrMissingTicket
	}
	return res, nil
}
