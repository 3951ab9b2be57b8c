package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/0xPuncker/jobkvs/internal/kvs"
)

// MaxWriteSize is the maximum number of pairs or keys in one command.
const MaxWriteSize = 256

// MaxLineSize bounds one job file line: a command word followed by
// MaxWriteSize pairs of maximum-length tokens. Longer lines decode as CmdInvalid.
const MaxLineSize = 16 + MaxWriteSize*(2*kvs.MaxStringSize+3)

// ErrMalformed is wrapped by every operand parse error.
var ErrMalformed = errors.New("malformed command")

type CommandType int

const (
	CmdEnd CommandType = iota
	CmdEmpty
	CmdInvalid
	CmdWrite
	CmdRead
	CmdDelete
	CmdShow
	CmdWait
	CmdBackup
	CmdHelp
)

var commandNames = map[CommandType]string{
	CmdEnd:     "END",
	CmdEmpty:   "EMPTY",
	CmdInvalid: "INVALID",
	CmdWrite:   "WRITE",
	CmdRead:    "READ",
	CmdDelete:  "DELETE",
	CmdShow:    "SHOW",
	CmdWait:    "WAIT",
	CmdBackup:  "BACKUP",
	CmdHelp:    "HELP",
}

func (c CommandType) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CommandType(%d)", int(c))
}

// Command is one decoded line of a job file. Keys and Values are parallel for
// WRITE; READ and DELETE only fill Keys.
type Command struct {
	Type    CommandType
	Keys    []string
	Values  []string
	DelayMS uint
	Line    int
	Err     error

	// Rejected holds the WRITE pairs that could not be split into a key and a
	// value. The remaining pairs of the command are still applied.
	Rejected []RejectedPair
}

// RejectedPair is one malformed pair of a WRITE command, e.g. "(d)".
type RejectedPair struct {
	Text string
	Err  error
}

// Source yields commands one at a time until CmdEnd.
type Source interface {
	Next() Command
}

// Parser decodes the line-oriented job file format:
//
//	WRITE [(key,value)(key2,value2)]
//	READ [key,key2]
//	DELETE [key,key2]
//	SHOW
//	WAIT <delay_ms>
//	BACKUP
//	HELP
//
// Blank lines and lines starting with '#' decode as CmdEmpty.
type Parser struct {
	reader *bufio.Reader
	line   int
	done   bool
}

func New(r io.Reader) *Parser {
	return &Parser{reader: bufio.NewReaderSize(r, MaxLineSize+1)}
}

func (p *Parser) Next() Command {
	if p.done {
		return Command{Type: CmdEnd, Line: p.line}
	}

	text, tooLong, err := p.readLine()
	if err != nil {
		p.done = true
		cmd := Command{Type: CmdEnd, Line: p.line}
		if !errors.Is(err, io.EOF) {
			cmd.Err = fmt.Errorf("failed to read job input: %w", err)
		}
		return cmd
	}

	p.line++
	if tooLong {
		return Command{
			Type: CmdInvalid,
			Line: p.line,
			Err:  fmt.Errorf("%w: line exceeds %d bytes", ErrMalformed, MaxLineSize),
		}
	}

	cmd := parseLine(strings.TrimSpace(text))
	cmd.Line = p.line
	return cmd
}

// readLine returns the next line. A line that does not fit the buffer is
// consumed up to its end and reported as too long.
func (p *Parser) readLine() (string, bool, error) {
	data, isPrefix, err := p.reader.ReadLine()
	if err != nil {
		return "", false, err
	}
	if !isPrefix {
		return string(data), false, nil
	}

	for isPrefix {
		if _, isPrefix, err = p.reader.ReadLine(); err != nil {
			break
		}
	}
	return "", true, nil
}

func parseLine(line string) Command {
	if line == "" || strings.HasPrefix(line, "#") {
		return Command{Type: CmdEmpty}
	}

	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch word {
	case "WRITE":
		keys, values, rejected, err := parsePairs(rest)
		return withErr(Command{Type: CmdWrite, Keys: keys, Values: values, Rejected: rejected}, err)
	case "READ":
		keys, err := parseKeys(rest)
		return withErr(Command{Type: CmdRead, Keys: keys}, err)
	case "DELETE":
		keys, err := parseKeys(rest)
		return withErr(Command{Type: CmdDelete, Keys: keys}, err)
	case "WAIT":
		delay, err := parseWait(rest)
		return withErr(Command{Type: CmdWait, DelayMS: delay}, err)
	case "SHOW":
		return noOperands(CmdShow, rest)
	case "BACKUP":
		return noOperands(CmdBackup, rest)
	case "HELP":
		return noOperands(CmdHelp, rest)
	}

	return Command{Type: CmdInvalid, Err: fmt.Errorf("%w: unknown command %q", ErrMalformed, word)}
}

func withErr(cmd Command, err error) Command {
	if err != nil {
		return Command{Type: CmdInvalid, Err: fmt.Errorf("%w: %s: %v", ErrMalformed, cmd.Type, err)}
	}
	return cmd
}

func noOperands(t CommandType, rest string) Command {
	if rest != "" {
		return Command{Type: CmdInvalid, Err: fmt.Errorf("%w: %s takes no operands", ErrMalformed, t)}
	}
	return Command{Type: t}
}

// parsePairs parses "[(k,v)(k2,v2)]". Pairs without a value or with an empty
// token are returned as rejected; key and value lengths are left to the store.
func parsePairs(s string) ([]string, []string, []RejectedPair, error) {
	body, err := brackets(s)
	if err != nil {
		return nil, nil, nil, err
	}

	var keys, values []string
	var rejected []RejectedPair
	for body != "" {
		if body[0] != '(' {
			return nil, nil, nil, fmt.Errorf("expected '(' at %q", body)
		}
		end := strings.IndexByte(body, ')')
		if end < 0 {
			return nil, nil, nil, fmt.Errorf("unterminated pair %q", body)
		}

		text := body[:end+1]
		body = strings.TrimLeft(body[end+1:], " ")

		key, value, err := splitPair(text)
		if err != nil {
			rejected = append(rejected, RejectedPair{Text: text, Err: fmt.Errorf("%w: %v", ErrMalformed, err)})
		} else {
			keys = append(keys, key)
			values = append(values, value)
		}
		if len(keys)+len(rejected) > MaxWriteSize {
			return nil, nil, nil, fmt.Errorf("more than %d pairs", MaxWriteSize)
		}
	}

	if len(keys)+len(rejected) == 0 {
		return nil, nil, nil, errors.New("no pairs")
	}
	return keys, values, rejected, nil
}

func splitPair(text string) (string, string, error) {
	key, value, ok := strings.Cut(text[1:len(text)-1], ",")
	if !ok {
		return "", "", fmt.Errorf("pair %q has no value", text)
	}
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if err := checkToken(key); err != nil {
		return "", "", err
	}
	if err := checkToken(value); err != nil {
		return "", "", err
	}
	return key, value, nil
}

// parseKeys parses "[k1,k2]".
func parseKeys(s string) ([]string, error) {
	body, err := brackets(s)
	if err != nil {
		return nil, err
	}
	if body == "" {
		return nil, errors.New("no keys")
	}

	parts := strings.Split(body, ",")
	if len(parts) > MaxWriteSize {
		return nil, fmt.Errorf("more than %d keys", MaxWriteSize)
	}

	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		key := strings.TrimSpace(part)
		if err := checkToken(key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func parseWait(s string) (uint, error) {
	// An optional trailing operand is accepted and ignored.
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, errors.New("expected a delay in milliseconds")
	}

	delay, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", fields[0])
	}
	return uint(delay), nil
}

func brackets(s string) (string, error) {
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return "", fmt.Errorf("expected [...] but got %q", s)
	}
	return strings.TrimSpace(s[1 : len(s)-1]), nil
}

func checkToken(tok string) error {
	if tok == "" {
		return errors.New("empty token")
	}
	if strings.ContainsAny(tok, "[]()") {
		return fmt.Errorf("token %q contains a delimiter", tok)
	}
	return nil
}
