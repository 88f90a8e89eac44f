// Package envelope encodes and decodes the line-oriented wire format that
// carries routing metadata between agents.
package envelope

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Wire markers, one per line.
const (
	Sentinel     = "__EXTERNAL_MESSAGE__"
	fromPrefix   = "__FROM_AGENT__"
	toPrefix     = "__TO_AGENT__"
	typePrefix   = "__MESSAGE_TYPE__"
	depthPrefix  = "__DEPTH__"
	maxPrefix    = "__MAX_DEPTH__"
	receiptPfx   = "__RECEIPT_ID__"
	bodyStart    = "__MESSAGE_START__"
	bodyEnd      = "__MESSAGE_END__"
	defaultDepth = 0
	defaultMax   = 1
)

// Type distinguishes a request from its answer.
type Type string

const (
	TypeQuery    Type = "query"
	TypeResponse Type = "response"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	return t == TypeQuery || t == TypeResponse
}

// Envelope is a message crossing an agent boundary.
type Envelope struct {
	FromAgent      string
	ToAgent        string
	Text           string
	ConversationID string
	Depth          int
	MaxDepth       int
	Type           Type
	ReceiptID      string
}

// Opts holds the optional envelope fields. Zero values take the defaults.
type Opts struct {
	ConversationID string
	Depth          int
	MaxDepth       int
	Type           Type
	ReceiptID      string
}

// New builds a validated Envelope. A zero MaxDepth in opts is kept as zero;
// use Default() for the wire defaults.
func New(from, to, text string, opts Opts) (*Envelope, error) {
	e := &Envelope{
		FromAgent:      from,
		ToAgent:        to,
		Text:           text,
		ConversationID: opts.ConversationID,
		Depth:          opts.Depth,
		MaxDepth:       opts.MaxDepth,
		Type:           opts.Type,
		ReceiptID:      opts.ReceiptID,
	}
	if e.Type == "" {
		e.Type = TypeQuery
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Default returns Opts carrying the wire defaults (depth 0, max depth 1, query).
func Default() Opts {
	return Opts{Depth: defaultDepth, MaxDepth: defaultMax, Type: TypeQuery}
}

// Validate checks the construction invariants.
func (e *Envelope) Validate() error {
	var errs []error
	if e.FromAgent == "" {
		errs = append(errs, errors.New("from agent is required"))
	}
	if e.ToAgent == "" {
		errs = append(errs, errors.New("to agent is required"))
	}
	if e.Text == "" {
		errs = append(errs, errors.New("message text is required"))
	}
	// Header fields are one wire line each.
	for _, f := range [][2]string{{"from agent", e.FromAgent}, {"to agent", e.ToAgent}, {"receipt id", e.ReceiptID}} {
		if strings.ContainsAny(f[1], "\r\n") {
			errs = append(errs, fmt.Errorf("%s must be a single line", f[0]))
		}
	}
	if e.Depth < 0 {
		errs = append(errs, fmt.Errorf("depth must be non-negative, got %d", e.Depth))
	}
	if e.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("max depth must be non-negative, got %d", e.MaxDepth))
	}
	if !e.Type.Valid() {
		errs = append(errs, fmt.Errorf("invalid message type %q", e.Type))
	}
	if len(errs) > 0 {
		return fmt.Errorf("envelope: %w", errors.Join(errs...))
	}
	return nil
}

// AtCeiling reports whether the envelope must not be answered.
func (e *Envelope) AtCeiling() bool {
	return e.Depth >= e.MaxDepth
}

// Format renders e in the wire format.
func Format(e *Envelope) string {
	var b strings.Builder
	b.WriteString(Sentinel + "\n")
	b.WriteString(fromPrefix + e.FromAgent + "\n")
	b.WriteString(toPrefix + e.ToAgent + "\n")
	b.WriteString(typePrefix + string(e.Type) + "\n")
	b.WriteString(depthPrefix + strconv.Itoa(e.Depth) + "\n")
	b.WriteString(maxPrefix + strconv.Itoa(e.MaxDepth) + "\n")
	if e.ReceiptID != "" {
		b.WriteString(receiptPfx + e.ReceiptID + "\n")
	}
	b.WriteString(bodyStart + "\n")
	b.WriteString(e.Text + "\n")
	b.WriteString(bodyEnd)
	return b.String()
}

// IsEnvelope is a cheap syntactic check for the sentinel marker.
func IsEnvelope(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), Sentinel)
}

// Parse decodes raw. It reports false for anything that is not a complete,
// valid envelope; unparsable numeric fields fall back to their defaults.
func Parse(raw string) (*Envelope, bool) {
	raw = strings.TrimLeft(raw, " \t\r\n")
	if !strings.HasPrefix(raw, Sentinel) {
		return nil, false
	}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	e := &Envelope{Depth: defaultDepth, MaxDepth: defaultMax, Type: TypeQuery}
	var body []string
	inBody := false

	for _, line := range lines[1:] {
		if inBody {
			if line == bodyEnd {
				break
			}
			body = append(body, line)
			continue
		}
		switch {
		case line == bodyStart:
			inBody = true
		case strings.HasPrefix(line, fromPrefix):
			e.FromAgent = strings.TrimPrefix(line, fromPrefix)
		case strings.HasPrefix(line, toPrefix):
			e.ToAgent = strings.TrimPrefix(line, toPrefix)
		case strings.HasPrefix(line, typePrefix):
			e.Type = Type(strings.TrimPrefix(line, typePrefix))
		case strings.HasPrefix(line, maxPrefix):
			e.MaxDepth = atoiOr(strings.TrimPrefix(line, maxPrefix), defaultMax)
		case strings.HasPrefix(line, depthPrefix):
			e.Depth = atoiOr(strings.TrimPrefix(line, depthPrefix), defaultDepth)
		case strings.HasPrefix(line, receiptPfx):
			e.ReceiptID = strings.TrimPrefix(line, receiptPfx)
		}
	}

	e.Text = strings.Join(body, "\n")
	if e.Validate() != nil {
		return nil, false
	}
	return e, true
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
