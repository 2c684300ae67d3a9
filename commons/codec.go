package commons

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMalformed matches every decode or validation failure.
	ErrMalformed = errors.New("malformed command")
	// ErrUnknownKind marks a syntactically sound line whose kind tag is not part of the protocol.
	ErrUnknownKind = errors.New("unknown command kind")
)

// drawFields is the arity of a DRAW payload: x1,y1,x2,y2,r,g,b,strokeWidth.
const drawFields = 8

// MalformedError reports a line (or command value) that must not be applied or relayed.
type MalformedError struct {
	Line   string
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed command %q: %s", e.Line, e.Reason)
}

func (e *MalformedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformed, e.Err}
	}
	return []error{ErrMalformed}
}

func malformed(line, reason string) error {
	return &MalformedError{Line: line, Reason: reason}
}

// Encode renders cmd as a single wire line without the trailing newline.
// The result is only meaningful for commands that pass Validate.
func Encode(cmd Command) string {
	switch c := cmd.(type) {
	case Join:
		return string(JoinKind) + Separator + c.Username
	case Left:
		return string(LeftKind) + Separator + c.Username
	case Chat:
		return string(ChatKind) + Separator + c.Username + Separator + c.Text
	case Draw:
		fields := []int{c.X1, c.Y1, c.X2, c.Y2, c.Red, c.Green, c.Blue, c.StrokeWidth}
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = strconv.Itoa(f)
		}
		return string(DrawKind) + Separator + c.Username + Separator + strings.Join(parts, FieldSeparator)
	case Clear:
		return string(ClearKind) + Separator + c.Username
	default:
		return ""
	}
}

// Decode parses one wire line. It never panics; every failure is a *MalformedError.
func Decode(line string) (Command, error) {
	if strings.ContainsAny(line, "\r\n") {
		return nil, malformed(line, "embedded line break")
	}

	kind, rest, ok := strings.Cut(line, Separator)
	if !ok {
		return nil, malformed(line, "missing separator")
	}

	var cmd Command
	switch Kind(kind) {
	case JoinKind:
		cmd = Join{Username: rest}
	case LeftKind:
		cmd = Left{Username: rest}
	case ClearKind:
		cmd = Clear{Username: rest}
	case ChatKind:
		origin, text, ok := strings.Cut(rest, Separator)
		if !ok {
			return nil, malformed(line, "chat is missing its text field")
		}
		cmd = Chat{Username: origin, Text: text}
	case DrawKind:
		origin, payload, ok := strings.Cut(rest, Separator)
		if !ok {
			return nil, malformed(line, "draw is missing its payload")
		}
		d, err := decodeDraw(line, origin, payload)
		if err != nil {
			return nil, err
		}
		cmd = d
	default:
		return nil, &MalformedError{Line: line, Reason: "unknown kind " + strconv.Quote(kind), Err: ErrUnknownKind}
	}

	if err := validate(line, cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func decodeDraw(line, origin, payload string) (Draw, error) {
	parts := strings.Split(payload, FieldSeparator)
	if len(parts) != drawFields {
		return Draw{}, malformed(line, fmt.Sprintf("draw needs %d fields, got %d", drawFields, len(parts)))
	}

	var vals [drawFields]int
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return Draw{}, &MalformedError{Line: line, Reason: fmt.Sprintf("field %d is not a 32-bit integer", i+1), Err: err}
		}
		vals[i] = int(n)
	}

	return Draw{
		Username:    origin,
		X1:          vals[0],
		Y1:          vals[1],
		X2:          vals[2],
		Y2:          vals[3],
		Red:         vals[4],
		Green:       vals[5],
		Blue:        vals[6],
		StrokeWidth: vals[7],
	}, nil
}

// Validate reports whether cmd can be encoded into a line that Decode accepts unchanged.
func Validate(cmd Command) error {
	if cmd == nil {
		return malformed("", "nil command")
	}
	return validate(Encode(cmd), cmd)
}

func validate(line string, cmd Command) error {
	switch c := cmd.(type) {
	case Join:
		return checkName(line, c.Username, true)
	case Left:
		return checkName(line, c.Username, true)
	case Clear:
		return checkName(line, c.Username, false)
	case Chat:
		if err := checkName(line, c.Username, true); err != nil {
			return err
		}
		if strings.ContainsAny(c.Text, "\r\n") {
			return malformed(line, "chat text contains a line break")
		}
		return nil
	case Draw:
		if err := checkName(line, c.Username, true); err != nil {
			return err
		}
		for _, ch := range []int{c.Red, c.Green, c.Blue} {
			if ch < 0 || ch > 255 {
				return malformed(line, "colour channel out of range 0-255")
			}
		}
		if c.StrokeWidth < 0 {
			return malformed(line, "negative stroke width")
		}
		for _, v := range []int{c.X1, c.Y1, c.X2, c.Y2, c.StrokeWidth} {
			if v < math.MinInt32 || v > math.MaxInt32 {
				return malformed(line, "field out of 32-bit range")
			}
		}
		return nil
	default:
		return malformed(line, fmt.Sprintf("unsupported command type %T", cmd))
	}
}

func checkName(line, name string, required bool) error {
	if required && name == "" {
		return malformed(line, "empty username")
	}
	if strings.Contains(name, Separator) {
		return malformed(line, "username contains "+strconv.Quote(Separator))
	}
	if strings.ContainsAny(name, "\r\n") {
		return malformed(line, "username contains a line break")
	}
	return nil
}
