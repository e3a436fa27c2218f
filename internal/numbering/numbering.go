// Package numbering hands out document numbers of the form PREFIX-000N.
package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Next returns the number after the highest existing one with prefix. The
// result never collides with an entry of existing.
func Next(prefix string, existing []string) string {
	taken := make(map[string]struct{}, len(existing))
	highest := 0
	for _, number := range existing {
		taken[number] = struct{}{}
		rest, ok := strings.CutPrefix(number, prefix+"-")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n > highest {
			highest = n
		}
	}
	for n := highest + 1; ; n++ {
		candidate := fmt.Sprintf("%s-%04d", prefix, n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

// Source lists numbers already issued under a prefix.
type Source interface {
	ListNumbers(ctx context.Context, prefix string) ([]string, error)
}

// Generator issues numbers from a Source.
type Generator struct {
	source Source
	prefix string
}

// NewGenerator builds a Generator for one document prefix.
func NewGenerator(source Source, prefix string) *Generator {
	return &Generator{source: source, prefix: prefix}
}

// Next returns a number not yet present in the source.
func (g *Generator) Next(ctx context.Context) (string, error) {
	existing, err := g.source.ListNumbers(ctx, g.prefix)
	if err != nil {
		return "", fmt.Errorf("numbering: list %s: %w", g.prefix, err)
	}
	return Next(g.prefix, existing), nil
}
