package agent

import (
	"context"
	"regexp"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the run's data, environment, etc.
type Provider interface {
	Instruction(ctx context.Context, vars map[string]string) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ctx context.Context, vars map[string]string) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ctx context.Context, vars map[string]string) (string, error) {
	return f(ctx, vars)
}

// Instruction represents either a static instruction template or a dynamic
// provider. Static templates may reference variables as {name}; unknown
// placeholders are left untouched.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static template.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context, vars map[string]string) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static template.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether the instruction is empty.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(ctx context.Context, vars map[string]string) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx, vars)
	}
	return Substitute(i.text, vars), nil
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute replaces {name} placeholders with values from vars.
func Substitute(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}
