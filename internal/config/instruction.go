package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

// LoadInstruction reads the instruction template from INSTRUCTION_FILE, or
// falls back to the inline AI_PROMPT text.
func LoadInstruction(cfg Config) (domain.Instruction, error) {
	if path := strings.TrimSpace(cfg.InstructionFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return domain.Instruction{}, domain.WrapError(domain.ErrConfiguration, "read instruction file", err)
		}
		return ParseInstruction(raw)
	}

	instruction := domain.Instruction{Preamble: cfg.AIPrompt}
	if instruction.IsEmpty() {
		return domain.Instruction{}, domain.WrapError(domain.ErrConfiguration, "load instruction", fmt.Errorf("instruction template is empty"))
	}
	return instruction, nil
}

func ParseInstruction(raw []byte) (domain.Instruction, error) {
	var instruction domain.Instruction
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&instruction); err != nil {
		return domain.Instruction{}, domain.WrapError(domain.ErrConfiguration, "parse instruction file", err)
	}
	if instruction.IsEmpty() {
		return domain.Instruction{}, domain.WrapError(domain.ErrConfiguration, "parse instruction file", fmt.Errorf("instruction template is empty"))
	}
	return instruction, nil
}
