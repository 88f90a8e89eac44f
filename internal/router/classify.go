// Package router classifies inbound text and carries agent messages, tool
// queries, commands and prompts to their handlers.
package router

import "strings"

// Kind labels a RouteDecision.
type Kind int

const (
	KindAgent Kind = iota
	KindTool
	KindCommand
	KindPrompt
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	case KindTool:
		return "tool"
	case KindCommand:
		return "command"
	case KindPrompt:
		return "prompt"
	default:
		return "malformed"
	}
}

// RouteDecision is the classification of one line of text. It is one of
// AgentMessage, ToolQuery, Command, PlainPrompt or Malformed.
type RouteDecision interface {
	Kind() Kind
	decision()
}

// AgentMessage is "@<target> <body>".
type AgentMessage struct {
	Target string
	Body   string
}

// ToolQuery is "#<provider>:<server> <body>".
type ToolQuery struct {
	Provider string
	Server   string
	Body     string
}

// Command is "/<name> [args]".
type Command struct {
	Name string
	Args string
}

// PlainPrompt is anything else.
type PlainPrompt struct {
	Body string
}

// Malformed is an agent message or tool query with bad syntax.
type Malformed struct {
	// Syntax is KindAgent or KindTool.
	Syntax Kind
}

func (AgentMessage) Kind() Kind { return KindAgent }
func (ToolQuery) Kind() Kind    { return KindTool }
func (Command) Kind() Kind      { return KindCommand }
func (PlainPrompt) Kind() Kind  { return KindPrompt }
func (Malformed) Kind() Kind    { return KindMalformed }

func (AgentMessage) decision() {}
func (ToolQuery) decision()    {}
func (Command) decision()      {}
func (PlainPrompt) decision()  {}
func (Malformed) decision()    {}

// Classify decides how text is routed. The first character selects the
// rule: '@' agent message, '#' tool query, '/' command, otherwise prompt.
func Classify(text string) RouteDecision {
	text = strings.TrimSpace(text)
	if text == "" {
		return PlainPrompt{}
	}
	head, rest := splitHead(text[1:])

	switch text[0] {
	case '@':
		if head == "" || rest == "" {
			return Malformed{Syntax: KindAgent}
		}
		return AgentMessage{Target: head, Body: rest}

	case '#':
		provider, server, ok := strings.Cut(head, ":")
		if !ok || provider == "" || server == "" || rest == "" {
			return Malformed{Syntax: KindTool}
		}
		return ToolQuery{Provider: provider, Server: server, Body: rest}

	case '/':
		return Command{Name: head, Args: rest}

	default:
		return PlainPrompt{Body: text}
	}
}

// splitHead splits s at the first run of whitespace. rest keeps its inner
// line breaks.
func splitHead(s string) (head, rest string) {
	i := strings.IndexAny(s, " \t\r\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
