// Package query implements the graph-view expression language contracted
// on the core by spec §6 ("query <expr>") and named in the glossary:
// `//...`, `deps(...)`, `rdeps(...)`, `allpaths(a,b)`, `kind(t, expr)`,
// `attr(n, v, expr)`. The CLI (`cmd/builder`) parses the user's expression
// string with Parse and evaluates it against the live Graph with Eval.
//
// Grounded on the teacher's own hand-rolled arg parsing in
// cmd/distri/distri.go (no parser-combinator library; a small switch over
// tokens), generalized here into a minimal recursive-descent parser since
// the grammar is five function forms plus a target-pattern literal — too
// small to justify pulling in a parser-generator dependency.
package query

import (
	"sort"
	"strings"

	"github.com/GriffinCanCode/Builder-sub003/internal/errs"
	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
)

// Expr is a parsed query expression, evaluable against a Graph.
type Expr interface {
	Eval(g *graph.Graph) []graph.TargetId
}

// patternExpr implements "//..." (empty prefix matches every target) and
// "//prefix/..." (matches the targets of package prefix and every target
// under it).
type patternExpr struct {
	prefix string // "" matches every id; otherwise "//prefix/"
}

func (p patternExpr) Eval(g *graph.Graph) []graph.TargetId {
	pkg := strings.TrimSuffix(p.prefix, "/") + ":"
	var out []graph.TargetId
	for _, id := range g.Ids() {
		if p.prefix == "" || strings.HasPrefix(string(id), p.prefix) || strings.HasPrefix(string(id), pkg) {
			out = append(out, id)
		}
	}
	return out
}

// literalExpr matches exactly one target id, if it exists.
type literalExpr struct {
	id graph.TargetId
}

func (l literalExpr) Eval(g *graph.Graph) []graph.TargetId {
	if _, ok := g.GetNode(l.id); ok {
		return []graph.TargetId{l.id}
	}
	return nil
}

// depsExpr is deps(inner): the transitive dependency closure of inner's
// result set, including the starting nodes themselves.
type depsExpr struct{ inner Expr }

func (d depsExpr) Eval(g *graph.Graph) []graph.TargetId {
	seen := make(map[graph.TargetId]bool)
	var walk func(id graph.TargetId)
	walk = func(id graph.TargetId) {
		if seen[id] {
			return
		}
		seen[id] = true
		n, ok := g.GetNode(id)
		if !ok {
			return
		}
		for _, dep := range n.DependencyIds {
			walk(dep)
		}
	}
	for _, id := range d.inner.Eval(g) {
		walk(id)
	}
	return sortedKeys(seen)
}

// rdepsExpr is rdeps(inner): the transitive dependent closure of inner's
// result set, including the starting nodes themselves.
type rdepsExpr struct{ inner Expr }

func (r rdepsExpr) Eval(g *graph.Graph) []graph.TargetId {
	seed := r.inner.Eval(g)
	seen := make(map[graph.TargetId]bool, len(seed))
	for _, id := range seed {
		seen[id] = true
	}
	for _, id := range g.ReverseDependents(seed) {
		seen[id] = true
	}
	return sortedKeys(seen)
}

// allPathsExpr is allpaths(from, to): nodes lying on some chain of
// dependency edges connecting from to to — the intersection of from's
// transitive dependencies and to's transitive dependents (both inclusive
// of the endpoints).
type allPathsExpr struct {
	from, to graph.TargetId
}

func (a allPathsExpr) Eval(g *graph.Graph) []graph.TargetId {
	downFromA := depsExpr{inner: literalExpr{id: a.from}}.Eval(g)
	upFromB := rdepsExpr{inner: literalExpr{id: a.to}}.Eval(g)

	upSet := make(map[graph.TargetId]bool, len(upFromB))
	for _, id := range upFromB {
		upSet[id] = true
	}
	seen := make(map[graph.TargetId]bool)
	for _, id := range downFromA {
		if upSet[id] {
			seen[id] = true
		}
	}
	return sortedKeys(seen)
}

// kindExpr is kind(kindName, inner): inner's result filtered to nodes
// whose TargetKind.String() case-insensitively matches kindName.
type kindExpr struct {
	kindName string
	inner    Expr
}

func (k kindExpr) Eval(g *graph.Graph) []graph.TargetId {
	var out []graph.TargetId
	for _, id := range k.inner.Eval(g) {
		n, ok := g.GetNode(id)
		if ok && strings.EqualFold(n.Kind.String(), k.kindName) {
			out = append(out, id)
		}
	}
	return out
}

// attrExpr is attr(name, value, inner): inner's result filtered to nodes
// whose named attribute equals value. The only attributes exposed are
// "language" (BuildNode.Language) and "priority" (BuildNode.Priority, by
// its zero-indexed name: low/normal/high/critical).
type attrExpr struct {
	name, value string
	inner       Expr
}

func (a attrExpr) Eval(g *graph.Graph) []graph.TargetId {
	var out []graph.TargetId
	for _, id := range a.inner.Eval(g) {
		n, ok := g.GetNode(id)
		if !ok {
			continue
		}
		if a.matches(n) {
			out = append(out, id)
		}
	}
	return out
}

func (a attrExpr) matches(n *graph.BuildNode) bool {
	switch strings.ToLower(a.name) {
	case "language":
		return strings.EqualFold(string(n.Language), a.value)
	case "priority":
		return strings.EqualFold(priorityName(n.Priority), a.value)
	default:
		return false
	}
}

func priorityName(p graph.Priority) string {
	switch p {
	case graph.Critical:
		return "critical"
	case graph.High:
		return "high"
	case graph.Normal:
		return "normal"
	case graph.Low:
		return "low"
	default:
		return "unknown"
	}
}

func sortedKeys(m map[graph.TargetId]bool) []graph.TargetId {
	out := make([]graph.TargetId, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Eval is a convenience wrapper: Parse then Eval in one call.
func Eval(g *graph.Graph, expr string) ([]graph.TargetId, error) {
	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return e.Eval(g), nil
}

// Parse compiles a query expression string into an Expr (spec §6, glossary
// "Query expressions").
func Parse(input string) (Expr, error) {
	p := &parser{toks: tokenize(input)}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, errs.Wrapf(errs.Internal, "", "query: unexpected trailing input near %q", p.toks[p.pos])
	}
	return e, nil
}

// tokenize splits input into a flat token stream: identifiers/patterns,
// '(', ')', ','. Target patterns ("//foo/bar:baz", "//foo/...") and bare
// identifiers are both captured as a single token; the parser decides
// which production applies based on what follows.
func tokenize(input string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range input {
		switch r {
		case '(', ')', ',':
			flush()
			toks = append(toks, string(r))
		case ' ', '\t', '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

type parser struct {
	toks []string
	pos  int
}

func (p *parser) peek() (string, bool) {
	if p.pos >= len(p.toks) {
		return "", false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (string, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) expect(tok string) error {
	t, ok := p.next()
	if !ok || t != tok {
		return errs.Wrapf(errs.Internal, "", "query: expected %q, got %q", tok, t)
	}
	return nil
}

func (p *parser) parseExpr() (Expr, error) {
	tok, ok := p.next()
	if !ok {
		return nil, errs.New(errs.Internal, "", "EmptyQuery", nil)
	}

	switch tok {
	case "deps", "rdeps":
		if err := p.expect("("); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		if tok == "deps" {
			return depsExpr{inner: inner}, nil
		}
		return rdepsExpr{inner: inner}, nil

	case "allpaths":
		if err := p.expect("("); err != nil {
			return nil, err
		}
		from, ok := p.next()
		if !ok {
			return nil, errs.New(errs.Internal, "", "MalformedAllpaths", nil)
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		to, ok := p.next()
		if !ok {
			return nil, errs.New(errs.Internal, "", "MalformedAllpaths", nil)
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return allPathsExpr{from: graph.TargetId(from), to: graph.TargetId(to)}, nil

	case "kind":
		if err := p.expect("("); err != nil {
			return nil, err
		}
		name, ok := p.next()
		if !ok {
			return nil, errs.New(errs.Internal, "", "MalformedKind", nil)
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return kindExpr{kindName: name, inner: inner}, nil

	case "attr":
		if err := p.expect("("); err != nil {
			return nil, err
		}
		name, ok := p.next()
		if !ok {
			return nil, errs.New(errs.Internal, "", "MalformedAttr", nil)
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		value, ok := p.next()
		if !ok {
			return nil, errs.New(errs.Internal, "", "MalformedAttr", nil)
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return attrExpr{name: name, value: value, inner: inner}, nil

	default:
		return parseTarget(tok)
	}
}

// parseTarget turns a bare token into a patternExpr ("//..." or
// "//prefix/...") or a literalExpr (an exact target id).
func parseTarget(tok string) (Expr, error) {
	if !strings.HasPrefix(tok, "//") {
		return nil, errs.Wrapf(errs.Internal, "", "query: %q is not a target pattern", tok)
	}
	if tok == "//..." {
		return patternExpr{prefix: ""}, nil
	}
	if strings.HasSuffix(tok, "/...") {
		return patternExpr{prefix: strings.TrimSuffix(tok, "...")}, nil
	}
	return literalExpr{id: graph.TargetId(tok)}, nil
}
