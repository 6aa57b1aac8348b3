package lirc

import (
	"fmt"
	"strconv"
	"strings"
)

// sighupLine is sent by lircd after it re-reads its configuration file.
const sighupLine = "SIGHUP"

// Field positions in a broadcast line: "<code> <repeat> <button> <remote>".
const (
	codeField   = 0
	repeatField = 1
	buttonField = 2
	remoteField = 3
)

// Decode parses one line of lircd broadcast output. The line terminator,
// if still present, is ignored.
//
// A "SIGHUP" line decodes to a ControlReconfigured message. Any other line
// must hold at least four space-separated fields with a hexadecimal repeat
// count in the second; anything else is reported as a *DecodeError. Empty
// trailing fields do not count, so "16 05 KEY_UP " has three. Fields after
// the remote name are ignored.
func Decode(line string) (Message, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	if line == sighupLine {
		return Message{Control: ControlReconfigured}, nil
	}

	fields := strings.Split(line, " ")
	for len(fields) > 0 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	if len(fields) <= remoteField {
		return Message{}, &DecodeError{
			Line:   line,
			Reason: fmt.Sprintf("want at least %d fields, got %d", remoteField+1, len(fields)),
			Err:    ErrTooFewFields,
		}
	}

	repeat, err := strconv.ParseInt(fields[repeatField], 16, 32)
	if err != nil {
		return Message{}, &DecodeError{
			Line:   line,
			Reason: fmt.Sprintf("repeat count %q is not a hexadecimal integer", fields[repeatField]),
			Err:    err,
		}
	}
	if repeat < 0 {
		return Message{}, &DecodeError{
			Line:   line,
			Reason: fmt.Sprintf("negative repeat count %d", repeat),
		}
	}

	return Message{
		Event: Event{
			Button: fields[buttonField],
			Remote: fields[remoteField],
			Repeat: int(repeat),
		},
	}, nil
}

// Encode renders e the way lircd broadcasts it, without the trailing
// newline. code fills the leading scan-code field, which Decode ignores.
func Encode(code string, e Event) string {
	return fmt.Sprintf("%s %02x %s %s", code, e.Repeat, e.Button, e.Remote)
}
