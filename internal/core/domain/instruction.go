package domain

import (
	"fmt"
	"strings"
)

// Instruction is the fixed operating rules segment placed first in every
// request.
type Instruction struct {
	Preamble string   `yaml:"preamble"`
	Rules    []string `yaml:"rules"`
}

func (i Instruction) Text() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(i.Preamble))
	for idx, rule := range i.Rules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", idx+1, rule)
	}
	return b.String()
}

func (i Instruction) Segment() Segment {
	return Segment{Source: InstructionSource, Index: 1, Total: 1, Text: i.Text()}
}

func (i Instruction) IsEmpty() bool {
	return strings.TrimSpace(i.Text()) == ""
}
