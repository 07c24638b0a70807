package pwsh

import (
	"fmt"
	"sort"
	"strings"
)

// Command is a PowerShell invocation to run through an Executor: either
// a named cmdlet with parameters, or a raw script block.
type Command struct {
	// Name is the cmdlet or function name, empty for script commands.
	Name string

	// Script is the raw script text, set only for script commands.
	Script string

	// params holds named parameters in insertion order.
	params []param
}

type param struct {
	name  string
	value any
}

// ScriptBlock is a parameter value rendered as a { ... } script-block
// literal. Cmdlet parameters typed [scriptblock], such as the Action of
// Set-PSBreakpoint, reject quoted strings.
type ScriptBlock string

// Raw is a parameter value rendered verbatim, for arguments that are
// engine expressions rather than literals.
type Raw string

// NewCommand creates a named cmdlet invocation.
func NewCommand(name string) *Command {
	return &Command{Name: name}
}

// NewScript creates a raw script invocation.
func NewScript(text string) *Command {
	return &Command{Script: text}
}

// Arg appends a named parameter and returns the command for chaining.
func (c *Command) Arg(name string, value any) *Command {
	c.params = append(c.params, param{name: name, value: value})
	return c
}

// Param returns the value of a named parameter and whether it is set.
func (c *Command) Param(name string) (any, bool) {
	for _, p := range c.params {
		if p.name == name {
			return p.value, true
		}
	}
	return nil, false
}

// ParamNames returns the parameter names in sorted order.
func (c *Command) ParamNames() []string {
	names := make([]string, 0, len(c.params))
	for _, p := range c.params {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

// Text renders the command as invokable PowerShell. Script commands are
// returned verbatim; named commands render as "Name -Param Value ...".
func (c *Command) Text() string {
	if c.Script != "" {
		return c.Script
	}

	var sb strings.Builder
	sb.WriteString(c.Name)
	for _, p := range c.params {
		sb.WriteString(" -")
		sb.WriteString(p.name)
		switch v := p.value.(type) {
		case bool:
			// Switch parameter, no value.
			if !v {
				sb.WriteString(":$false")
			}
		case ScriptBlock:
			sb.WriteString(" { ")
			sb.WriteString(string(v))
			sb.WriteString(" }")
		case Raw:
			sb.WriteString(" ")
			sb.WriteString(string(v))
		case string:
			sb.WriteString(" ")
			sb.WriteString(QuoteSingle(v))
		default:
			fmt.Fprintf(&sb, " %v", v)
		}
	}
	return sb.String()
}

// QuoteSingle wraps s in single quotes, doubling embedded quotes per
// PowerShell quoting rules.
func QuoteSingle(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
