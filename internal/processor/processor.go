// Package processor provides the output parsing rules applied to remote command
// output. Rules are small named processors composed into chains.
package processor

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ProcessorTypeTrim       string = "trim"
	ProcessorTypeDropEmpty  string = "drop_empty"
	ProcessorTypeAfterColon string = "after_colon"
	ProcessorTypeFirstLine  string = "first_line"
	ProcessorTypeJoin       string = "join"

	matchLinePrefix = "match_line:"
)

var ErrNoMatch = errors.New("no matching output line")

// Processor defines the interface for processing string slices.
type Processor interface {
	// Process applies the processor's logic to the input lines.
	Process([]string) ([]string, error)
	Name() string
}

// ProcessorChain manages a collection of processors and applies them in sequence.
type ProcessorChain struct {
	processors        map[string]Processor
	allowEmptyResults bool
}

func NewProcessorChain() *ProcessorChain {
	pc := &ProcessorChain{
		processors: make(map[string]Processor),
	}
	pc.registerDefaults()
	return pc
}

func (pc *ProcessorChain) registerDefaults() {
	pc.Register(&TrimProcessor{})
	pc.Register(&DropEmptyProcessor{})
	pc.Register(&AfterColonProcessor{})
	pc.Register(&FirstLineProcessor{})
	pc.Register(&JoinProcessor{Sep: " "})
}

// Lenient returns a chain sharing the same processors that accepts empty
// intermediate results.
func (pc *ProcessorChain) Lenient() *ProcessorChain {
	return &ProcessorChain{processors: pc.processors, allowEmptyResults: true}
}

// Register adds a processor to the chain.
func (pc *ProcessorChain) Register(p Processor) {
	pc.processors[p.Name()] = p
}

// Process applies the named processors to lines in order. An empty intermediate
// result is an error unless the chain allows empty results.
func (pc *ProcessorChain) Process(lines []string, processorNames ...string) ([]string, error) {
	for _, name := range processorNames {
		if _, exists := pc.processors[name]; !exists {
			return nil, fmt.Errorf("processor %q not registered", name)
		}
	}
	result := lines
	for _, name := range processorNames {
		var err error
		result, err = pc.processors[name].Process(result)
		if err != nil {
			return nil, fmt.Errorf("%s processor failed: %w", name, err)
		}
		if len(result) == 0 && !pc.allowEmptyResults {
			return nil, fmt.Errorf("%s processor: %w", name, ErrNoMatch)
		}
	}
	return result, nil
}

// Value runs the chain and returns the single resulting value.
func (pc *ProcessorChain) Value(lines []string, processorNames ...string) (string, error) {
	out, err := pc.Process(lines, processorNames...)
	if err != nil {
		return "", err
	}
	return strings.Join(out, " "), nil
}

// TrimProcessor trims whitespace from each line in the input.
type TrimProcessor struct{}

func (p *TrimProcessor) Name() string { return ProcessorTypeTrim }
func (p *TrimProcessor) Process(lines []string) ([]string, error) {
	trimmed := make([]string, len(lines))
	for i, line := range lines {
		trimmed[i] = strings.TrimSpace(line)
	}
	return trimmed, nil
}

// DropEmptyProcessor removes blank lines.
type DropEmptyProcessor struct{}

func (p *DropEmptyProcessor) Name() string { return ProcessorTypeDropEmpty }
func (p *DropEmptyProcessor) Process(lines []string) ([]string, error) {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// MatchLineProcessor keeps only lines that start with Prefix once leading
// whitespace is removed, e.g. "Load" for `nodetool info`.
type MatchLineProcessor struct {
	Prefix string
}

func NewMatchLine(prefix string) *MatchLineProcessor {
	return &MatchLineProcessor{Prefix: prefix}
}

func (p *MatchLineProcessor) Name() string { return matchLinePrefix + p.Prefix }
func (p *MatchLineProcessor) Process(lines []string) ([]string, error) {
	var out []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), p.Prefix) {
			out = append(out, line)
		}
	}
	return out, nil
}

// AfterColonProcessor replaces each line with the trimmed text after its first
// colon. Lines without a colon are dropped; if no line has one the output is
// unexpected and an error is returned.
type AfterColonProcessor struct{}

func (p *AfterColonProcessor) Name() string { return ProcessorTypeAfterColon }
func (p *AfterColonProcessor) Process(lines []string) ([]string, error) {
	var out []string
	for _, line := range lines {
		_, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		out = append(out, strings.TrimSpace(value))
	}
	if len(lines) > 0 && len(out) == 0 {
		return nil, fmt.Errorf("%w: no line contains ':'", ErrNoMatch)
	}
	return out, nil
}

// FirstLineProcessor keeps the first line only.
type FirstLineProcessor struct{}

func (p *FirstLineProcessor) Name() string { return ProcessorTypeFirstLine }
func (p *FirstLineProcessor) Process(lines []string) ([]string, error) {
	if len(lines) == 0 {
		return lines, nil
	}
	return lines[:1], nil
}

// JoinProcessor collapses all lines into one.
type JoinProcessor struct {
	Sep string
}

func (p *JoinProcessor) Name() string { return ProcessorTypeJoin }
func (p *JoinProcessor) Process(lines []string) ([]string, error) {
	if len(lines) == 0 {
		return lines, nil
	}
	return []string{strings.Join(lines, p.Sep)}, nil
}
