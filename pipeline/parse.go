// Package pipeline loads and runs multi-tile pipeline scripts.
//
// A script lists tile invocations, one per line, using the same positional
// arguments as tilerun. The loader turns the script into a model.Graph, checks
// it and orders it; Run then executes the tiles one at a time.
//
// Script syntax:
//
//	# comment
//	let NAME VALUE                 substitute VALUE for NAME in later lines
//	tile ID OPERATOR [OPTION...] ARGS...
//	iterate VAR START END {
//	    tile ...                   VAR and {VAR} expand to START..END
//	}
//
// OPERATOR is an operator kind or preset name. OPTIONs come right after it:
// relu, norelu, tag=N (explicit tile id) and layout=BASE (take every address
// from the preset layout at BASE; the address positionals are still required
// but ignored).
package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sbl8/tilesim/model"
	"github.com/sbl8/tilesim/runtime"
)

// ParseFile reads and parses a pipeline script.
func ParseFile(path string) (*model.Graph, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(src)
}

// Parse parses a pipeline script into an unordered graph.
func Parse(src []byte) (*model.Graph, error) {
	lines := strings.Split(string(src), "\n")
	p := &scriptParser{vars: make(map[string]string)}

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		start := i
		var err error
		i, err = p.parseLine(lines, i)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", start+1, err)
		}
	}
	return &model.Graph{Nodes: p.nodes}, nil
}

type scriptParser struct {
	nodes []model.Node
	vars  map[string]string
}

// parseLine handles the directive starting at lines[idx] and returns the
// index of the last line it consumed.
func (p *scriptParser) parseLine(lines []string, idx int) (int, error) {
	fields := strings.Fields(lines[idx])
	if fields[0] == "iterate" {
		return p.parseIterate(lines, idx, fields)
	}
	return idx, p.directive(fields, idx+1)
}

// directive applies one let or tile line. Let names are never substituted,
// so a later let rebinds the same name.
func (p *scriptParser) directive(fields []string, line int) error {
	switch fields[0] {
	case "tile":
		return p.parseTileLine(append(fields[:1:1], p.substitute(fields[1:])...), line)
	case "let":
		if len(fields) != 3 {
			return fmt.Errorf("let needs a name and a value")
		}
		p.vars[fields[1]] = p.lookup(fields[2])
		return nil
	case "iterate":
		return fmt.Errorf("nested iterate blocks are not supported")
	default:
		return fmt.Errorf("unknown directive: %s", fields[0])
	}
}

func (p *scriptParser) lookup(field string) string {
	if v, ok := p.vars[field]; ok {
		return v
	}
	return field
}

// substitute replaces fields that exactly match a let name.
func (p *scriptParser) substitute(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = p.lookup(f)
	}
	return out
}

func (p *scriptParser) parseTileLine(fields []string, line int) error {
	if len(fields) < 3 {
		return fmt.Errorf("invalid tile spec: needs an id and an operator")
	}
	id, err := strconv.ParseUint(fields[1], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid tile id %q: %v", fields[1], err)
	}
	name := fields[2]

	args := fields[3:]
	var opts []string
	for len(args) > 0 && isOption(args[0]) {
		opts = append(opts, args[0])
		args = args[1:]
	}

	cfg, err := runtime.ParseArgs(name, args)
	if err != nil {
		return err
	}
	if err := applyOptions(&cfg, opts); err != nil {
		return err
	}

	p.nodes = append(p.nodes, model.Node{ID: uint16(id), Line: line, Config: cfg})
	return nil
}

func isOption(field string) bool {
	return field == "relu" || field == "norelu" ||
		strings.HasPrefix(field, "tag=") || strings.HasPrefix(field, "layout=")
}

func applyOptions(cfg *runtime.TileConfig, opts []string) error {
	for _, o := range opts {
		key, value, _ := strings.Cut(o, "=")
		switch key {
		case "relu", "norelu":
			on := key == "relu"
			cfg.ReLU = &on
		case "tag":
			tag, err := strconv.ParseUint(value, 0, 8)
			if err != nil {
				return fmt.Errorf("invalid tag %q: %v", value, err)
			}
			cfg.Tile = int(tag)
		case "layout":
			base, err := strconv.ParseInt(value, 0, 64)
			if err != nil {
				return fmt.Errorf("invalid layout base %q: %v", value, err)
			}
			op, err := cfg.Operator()
			if err != nil {
				return err
			}
			if err := cfg.ApplyLayout(op, base); err != nil {
				return err
			}
		}
	}
	return nil
}

// bodyLine is one directive inside an iterate block, with its 1-based
// script line.
type bodyLine struct {
	text string
	line int
}

// parseIterate reads "iterate VAR START END {" (the brace may sit on the
// next line), the block body up to "}", and expands the body once per value.
func (p *scriptParser) parseIterate(lines []string, idx int, fields []string) (int, error) {
	header := fields
	open := header[len(header)-1] == "{"
	if open {
		header = header[:len(header)-1]
	}
	if len(header) != 4 {
		return idx, fmt.Errorf("iterate needs a variable, a start and an end: %s", strings.Join(fields, " "))
	}
	varName := header[1]
	var bounds [2]int
	for i, field := range header[2:] {
		v, err := strconv.Atoi(p.lookup(field))
		if err != nil {
			return idx, fmt.Errorf("invalid iterate bound %q: %v", field, err)
		}
		bounds[i] = v
	}

	i := idx + 1
	if !open {
		for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
			i++
		}
		if i >= len(lines) || strings.TrimSpace(lines[i]) != "{" {
			return idx, fmt.Errorf("missing '{' after iterate")
		}
		i++
	}

	var body []bodyLine
	for ; i < len(lines); i++ {
		text := strings.TrimSpace(lines[i])
		switch {
		case text == "}":
			return i, p.expandIterate(body, varName, bounds[0], bounds[1])
		case text != "" && !strings.HasPrefix(text, "#"):
			body = append(body, bodyLine{text: text, line: i + 1})
		}
	}
	return idx, fmt.Errorf("unterminated iterate block")
}

func (p *scriptParser) expandIterate(body []bodyLine, varName string, start, end int) error {
	for v := start; v <= end; v++ {
		for _, b := range body {
			fields := strings.Fields(expandVariable(b.text, varName, v))
			if err := p.directive(fields, b.line); err != nil {
				return fmt.Errorf("line %d (%s=%d): %w", b.line, varName, v, err)
			}
		}
	}
	return nil
}

// expandVariable replaces the variable in line, either as a whole field or
// as a {name} placeholder inside one.
func expandVariable(line, varName string, value int) string {
	s := strconv.Itoa(value)
	placeholder := "{" + varName + "}"
	fields := strings.Fields(line)
	for i, field := range fields {
		if field == varName {
			fields[i] = s
			continue
		}
		fields[i] = strings.ReplaceAll(field, placeholder, s)
	}
	return strings.Join(fields, " ")
}
