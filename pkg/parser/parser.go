package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

// ParseFile parses one source file. Parsing is recoverable: on a syntax
// error the parser resynchronizes at the next top-level declaration keyword
// so a single run can report several problems.
func ParseFile(path, src string) (*File, []*SyntaxError) {
	toks, errs := lex(path, src)
	p := &parser{file: path, toks: toks, errs: errs}
	f := p.parseFile()
	return f, p.errs
}

type parser struct {
	file string
	toks []Token
	pos  int
	errs []*SyntaxError
}

func (p *parser) cur() Token  { return p.toks[p.pos] }
func (p *parser) peek() Token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) at(kind TokKind) bool { return p.cur().Kind == kind }

func (p *parser) atKeyword(kw string) bool {
	return p.cur().Kind == TokKeyword && p.cur().Text == kw
}

func (p *parser) atWord(w string) bool {
	t := p.cur()
	return (t.Kind == TokIdent || t.Kind == TokKeyword) && t.Text == w
}

func (p *parser) prov() contracts.Provenance {
	return contracts.Provenance{File: p.cur().File, Line: p.cur().Line}
}

func (p *parser) errorf(format string, args ...any) {
	t := p.cur()
	p.errs = append(p.errs, &SyntaxError{
		File: t.File, Line: t.Line, Col: t.Col,
		Message: fmt.Sprintf(format, args...),
	})
}

type parseAbort struct{}

func (p *parser) fail(format string, args ...any) {
	p.errorf(format, args...)
	panic(parseAbort{})
}

func (p *parser) expect(kind TokKind, what string) Token {
	if !p.at(kind) {
		p.fail("expected %s, found %s", what, p.cur())
	}
	return p.next()
}

func (p *parser) expectKeyword(kw string) Token {
	if !p.atKeyword(kw) {
		p.fail("expected %q, found %s", kw, p.cur())
	}
	return p.next()
}

func (p *parser) expectWord(w string) Token {
	if !p.atWord(w) {
		p.fail("expected %q, found %s", w, p.cur())
	}
	return p.next()
}

func (p *parser) ident() string {
	return p.expect(TokIdent, "identifier").Text
}

var topLevelKeywords = map[string]bool{
	"import": true, "contract": true, "type": true, "persona": true,
	"fact": true, "entity": true, "rule": true, "operation": true,
	"flow": true, "system": true, "source": true,
}

// sync skips tokens until the next top-level declaration keyword.
func (p *parser) sync() {
	for !p.at(TokEOF) {
		if p.cur().Kind == TokKeyword && topLevelKeywords[p.cur().Text] {
			return
		}
		p.next()
	}
}

func (p *parser) parseFile() *File {
	f := &File{Path: p.file}
	for !p.at(TokEOF) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					if _, ok := r.(parseAbort); !ok {
						panic(r)
					}
					p.next()
					p.sync()
				}
			}()
			p.parseDecl(f)
		}()
	}
	return f
}

func (p *parser) parseDecl(f *File) {
	t := p.cur()
	if t.Kind != TokKeyword {
		p.fail("expected declaration, found %s", t)
	}
	switch t.Text {
	case "import":
		prov := p.prov()
		p.next()
		path := p.expect(TokString, "import path").Text
		f.Imports = append(f.Imports, &ImportDecl{Path: path, Prov: prov})
	case "contract":
		prov := p.prov()
		p.next()
		f.Decls = append(f.Decls, &ContractDecl{ID: p.ident(), Prov: prov})
	case "type":
		prov := p.prov()
		p.next()
		id := p.ident()
		p.expect(TokAssign, "'='")
		f.Decls = append(f.Decls, &TypeDeclNode{ID: id, Body: p.parseType(), Prov: prov})
	case "persona":
		prov := p.prov()
		p.next()
		f.Decls = append(f.Decls, &PersonaDecl{ID: p.ident(), Prov: prov})
	case "source":
		f.Decls = append(f.Decls, p.parseSource())
	case "fact":
		f.Decls = append(f.Decls, p.parseFact())
	case "entity":
		f.Decls = append(f.Decls, p.parseEntity())
	case "rule":
		f.Decls = append(f.Decls, p.parseRule())
	case "operation":
		f.Decls = append(f.Decls, p.parseOperation())
	case "flow":
		f.Decls = append(f.Decls, p.parseFlow())
	case "system":
		f.Decls = append(f.Decls, p.parseSystem())
	default:
		p.fail("unexpected keyword %q at top level", t.Text)
	}
}

func (p *parser) parseSource() *SourceDecl {
	prov := p.prov()
	p.expectKeyword("source")
	d := &SourceDecl{ID: p.ident(), Props: map[string]string{}, Prov: prov}
	p.expect(TokLBrace, "'{'")
	for !p.at(TokRBrace) {
		key := p.ident()
		p.expect(TokColon, "':'")
		d.Props[key] = p.expect(TokString, "string value").Text
		if p.at(TokComma) {
			p.next()
		}
	}
	p.expect(TokRBrace, "'}'")
	return d
}

func (p *parser) parseFact() *FactDecl {
	prov := p.prov()
	p.expectKeyword("fact")
	d := &FactDecl{ID: p.ident(), Prov: prov}
	p.expect(TokColon, "':'")
	d.Type = p.parseType()
	if p.at(TokAssign) {
		p.next()
		d.Default = p.parseLiteral()
	}
	if p.atKeyword("from") {
		p.next()
		d.Source = p.ident()
	}
	return d
}

func (p *parser) parseEntity() *EntityDecl {
	prov := p.prov()
	p.expectKeyword("entity")
	d := &EntityDecl{ID: p.ident(), Prov: prov}
	p.expect(TokLBrace, "'{'")
	for !p.at(TokRBrace) {
		switch {
		case p.atKeyword("states"):
			p.next()
			p.expect(TokColon, "':'")
			d.States = p.identList()
		case p.atKeyword("initial"):
			p.next()
			p.expect(TokColon, "':'")
			d.Initial = p.ident()
		case p.atKeyword("transitions"):
			p.next()
			p.expect(TokColon, "':'")
			for {
				from := p.ident()
				p.expect(TokArrow, "'->'")
				to := p.ident()
				d.Transitions = append(d.Transitions, contracts.Transition{From: from, To: to})
				if !p.at(TokComma) {
					break
				}
				p.next()
			}
		case p.atKeyword("instance_key"):
			p.next()
			p.expect(TokColon, "':'")
			d.InstanceKey = p.ident()
		default:
			p.fail("unexpected %s in entity body", p.cur())
		}
	}
	p.expect(TokRBrace, "'}'")
	return d
}

func (p *parser) parseRule() *RuleDecl {
	prov := p.prov()
	p.expectKeyword("rule")
	d := &RuleDecl{ID: p.ident(), Prov: prov}
	if p.at(TokAt) {
		p.next()
		d.Stratum = p.intLit("stratum")
	}
	p.expect(TokLBrace, "'{'")
	p.expectKeyword("when")
	d.When = p.parsePredicate()
	p.expectKeyword("produce")
	d.VerdictType = p.ident()
	if p.at(TokColon) {
		p.next()
		d.PayloadType = p.parseType()
		p.expect(TokAssign, "'='")
		d.Payload = p.parseExprPrimary()
	}
	p.expect(TokRBrace, "'}'")
	return d
}

func (p *parser) parseOperation() *OperationDecl {
	prov := p.prov()
	p.expectKeyword("operation")
	d := &OperationDecl{ID: p.ident(), Prov: prov}
	p.expect(TokLBrace, "'{'")
	for !p.at(TokRBrace) {
		switch {
		case p.atKeyword("personas"):
			p.next()
			p.expect(TokColon, "':'")
			d.AllowedPersonas = p.identList()
		case p.atKeyword("precondition"):
			p.next()
			p.expect(TokColon, "':'")
			d.Precondition = p.parsePredicate()
		case p.atKeyword("effects"):
			p.next()
			p.expect(TokColon, "':'")
			for {
				eff := contracts.Effect{Entity: p.ident()}
				eff.From = p.ident()
				p.expect(TokArrow, "'->'")
				eff.To = p.ident()
				if p.at(TokLParen) {
					p.next()
					eff.Outcome = p.ident()
					p.expect(TokRParen, "')'")
				}
				d.Effects = append(d.Effects, eff)
				if !p.at(TokComma) {
					break
				}
				p.next()
			}
		case p.atKeyword("errors"):
			p.next()
			p.expect(TokColon, "':'")
			d.ErrorContract = p.identList()
		case p.atKeyword("outcomes"):
			p.next()
			p.expect(TokColon, "':'")
			d.Outcomes = p.identList()
		default:
			p.fail("unexpected %s in operation body", p.cur())
		}
	}
	p.expect(TokRBrace, "'}'")
	return d
}

func (p *parser) parseFlow() *FlowDecl {
	prov := p.prov()
	p.expectKeyword("flow")
	d := &FlowDecl{ID: p.ident(), Steps: map[string]*contracts.Step{}, Prov: prov}
	p.expect(TokLBrace, "'{'")
	p.expectKeyword("entry")
	d.Entry = p.ident()
	for p.atKeyword("step") {
		s := p.parseStep()
		if _, dup := d.Steps[s.ID]; dup {
			p.errorf("duplicate step id %q in flow %q", s.ID, d.ID)
		}
		d.Steps[s.ID] = s
	}
	p.expect(TokRBrace, "'}'")
	return d
}

func (p *parser) parseStep() *contracts.Step {
	prov := p.prov()
	p.expectKeyword("step")
	s := &contracts.Step{ID: p.ident(), Prov: prov}
	p.expect(TokColon, "':'")
	switch {
	case p.atKeyword("operation"):
		p.next()
		s.Kind = contracts.StepOperation
		s.Op = p.ident()
		p.expectKeyword("by")
		s.Persona = p.ident()
		s.Outcomes = map[string]contracts.Target{}
		p.expect(TokLBrace, "'{'")
		for p.atKeyword("on") {
			p.next()
			if p.atWord("failure") {
				p.next()
				s.OnFailure = p.parseHandler()
				continue
			}
			outcome := p.ident()
			s.Outcomes[outcome] = p.parseTarget()
		}
		p.expect(TokRBrace, "'}'")
	case p.atKeyword("branch"):
		p.next()
		s.Kind = contracts.StepBranch
		s.Condition = p.parsePredicate()
		p.expectKeyword("by")
		s.Persona = p.ident()
		p.expect(TokLBrace, "'{'")
		p.expectKeyword("true")
		s.IfTrue = p.parseTarget()
		p.expectKeyword("false")
		s.IfFalse = p.parseTarget()
		p.expect(TokRBrace, "'}'")
	case p.atKeyword("handoff"):
		p.next()
		s.Kind = contracts.StepHandoff
		s.FromPersona = p.ident()
		p.expect(TokArrow, "'->'")
		s.ToPersona = p.ident()
		s.Next = p.parseTarget()
	case p.atKeyword("subflow"):
		p.next()
		s.Kind = contracts.StepSubFlow
		s.SubFlow = p.ident()
		p.expectKeyword("by")
		s.Persona = p.ident()
		p.expect(TokLBrace, "'{'")
		p.expectKeyword("on")
		p.expectWord("success")
		s.OnSuccess = p.parseTarget()
		if p.atKeyword("on") {
			p.next()
			p.expectWord("failure")
			s.OnFailure = p.parseHandler()
		}
		p.expect(TokRBrace, "'}'")
	case p.atKeyword("parallel"):
		p.next()
		s.Kind = contracts.StepParallel
		p.expect(TokLBrace, "'{'")
		for p.atKeyword("branch") {
			p.next()
			pb := contracts.ParallelBranch{ID: p.ident(), Steps: map[string]*contracts.Step{}}
			p.expect(TokLBrace, "'{'")
			p.expectKeyword("entry")
			pb.Entry = p.ident()
			for p.atKeyword("step") {
				bs := p.parseStep()
				pb.Steps[bs.ID] = bs
			}
			p.expect(TokRBrace, "'}'")
			s.Branches = append(s.Branches, pb)
		}
		p.expectKeyword("join")
		p.expect(TokLBrace, "'{'")
		s.Join = &contracts.JoinPolicy{}
		p.expectKeyword("on")
		p.expectWord("all_success")
		s.Join.OnAllSuccess = p.parseTarget()
		p.expectKeyword("on")
		p.expectWord("any_failure")
		s.Join.OnAnyFailure = p.parseHandler()
		p.expect(TokRBrace, "'}'")
		p.expect(TokRBrace, "'}'")
	default:
		p.fail("expected step body, found %s", p.cur())
	}
	return s
}

// parseTarget parses "-> step_id" or "-> end(outcome)".
func (p *parser) parseTarget() contracts.Target {
	p.expect(TokArrow, "'->'")
	if p.atKeyword("end") {
		p.next()
		p.expect(TokLParen, "'('")
		outcome := p.ident()
		p.expect(TokRParen, "')'")
		return contracts.Target{Terminal: outcome}
	}
	return contracts.Target{Step: p.ident()}
}

func (p *parser) parseHandler() *contracts.Handler {
	switch {
	case p.atKeyword("terminate"):
		p.next()
		p.expect(TokLParen, "'('")
		h := &contracts.Handler{Kind: contracts.HandlerTerminate, Outcome: p.ident()}
		p.expect(TokRParen, "')'")
		return h
	case p.atKeyword("compensate"):
		p.next()
		h := &contracts.Handler{Kind: contracts.HandlerCompensate}
		p.expect(TokLParen, "'('")
		for {
			cs := contracts.CompensationStep{Op: p.ident()}
			p.expectKeyword("by")
			cs.Persona = p.ident()
			if p.atKeyword("on") {
				p.next()
				p.expectWord("failure")
				cs.OnFailure = p.parseTarget()
			}
			h.Steps = append(h.Steps, cs)
			if !p.at(TokComma) {
				break
			}
			p.next()
		}
		p.expect(TokRParen, "')'")
		p.expectKeyword("then")
		h.Then = p.parseTarget()
		return h
	case p.atKeyword("escalate"):
		p.next()
		p.expect(TokLParen, "'('")
		h := &contracts.Handler{Kind: contracts.HandlerEscalate, ToPersona: p.ident()}
		p.expect(TokRParen, "')'")
		h.Next = p.parseTarget()
		return h
	default:
		p.fail("expected failure handler, found %s", p.cur())
		return nil
	}
}

func (p *parser) parseSystem() *SystemDecl {
	prov := p.prov()
	p.expectKeyword("system")
	d := &SystemDecl{ID: p.ident(), Prov: prov}
	p.expect(TokLBrace, "'{'")
	for !p.at(TokRBrace) {
		switch {
		case p.atKeyword("members"):
			p.next()
			p.expect(TokColon, "':'")
			d.Members = p.identList()
		case p.atKeyword("shared"):
			p.next()
			if p.atKeyword("personas") {
				p.next()
				p.expect(TokColon, "':'")
				d.SharedPersonas = p.identList()
			} else {
				p.expectWord("entities")
				p.expect(TokColon, "':'")
				d.SharedEntities = p.identList()
			}
		case p.atKeyword("trigger"):
			p.next()
			var tr contracts.Trigger
			tr.FromContract = p.ident()
			p.expect(TokDot, "'.'")
			tr.FromFlow = p.ident()
			p.expectKeyword("on")
			tr.Outcome = p.ident()
			p.expect(TokArrow, "'->'")
			tr.ToContract = p.ident()
			p.expect(TokDot, "'.'")
			tr.ToFlow = p.ident()
			p.expectKeyword("by")
			tr.Persona = p.ident()
			d.Triggers = append(d.Triggers, tr)
		default:
			p.fail("unexpected %s in system body", p.cur())
		}
	}
	p.expect(TokRBrace, "'}'")
	return d
}

func (p *parser) identList() []string {
	out := []string{p.ident()}
	for p.at(TokComma) {
		p.next()
		out = append(out, p.ident())
	}
	return out
}

func (p *parser) intLit(what string) int {
	t := p.expect(TokInt, what)
	n, err := strconv.Atoi(t.Text)
	if err != nil {
		p.fail("invalid %s %q", what, t.Text)
	}
	return n
}

// --- types ---

var primitiveTypes = map[string]contracts.TypeKind{
	"bool": contracts.TypeBool, "int": contracts.TypeInt,
	"decimal": contracts.TypeDecimal, "money": contracts.TypeMoney,
	"text": contracts.TypeText, "date": contracts.TypeDate,
	"datetime": contracts.TypeDateTime, "duration": contracts.TypeDuration,
}

func (p *parser) parseType() *contracts.Type {
	switch {
	case p.atKeyword("record"):
		p.next()
		return p.parseFieldMap(contracts.TypeRecord)
	case p.atKeyword("union"):
		p.next()
		t := p.parseFieldMap(contracts.TypeTaggedUnion)
		t.Variants, t.Fields = t.Fields, nil
		return t
	case p.atKeyword("enum"):
		p.next()
		p.expect(TokLParen, "'('")
		t := &contracts.Type{Kind: contracts.TypeEnum, Values: p.identList()}
		p.expect(TokRParen, "')'")
		return t
	case p.atKeyword("list"):
		p.next()
		p.expect(TokLAngleBr, "'<'")
		t := &contracts.Type{Kind: contracts.TypeList, Elem: p.parseType()}
		if p.at(TokComma) {
			p.next()
			n := p.intLit("list bound")
			t.MaxItems = &n
		}
		p.expect(TokRAngleBr, "'>'")
		return t
	}

	name := p.ident()
	if kind, ok := primitiveTypes[name]; ok {
		t := &contracts.Type{Kind: kind}
		if p.at(TokLParen) {
			p.next()
			p.parseTypeParams(t)
			p.expect(TokRParen, "')'")
		}
		if t.Kind == contracts.TypeDecimal && t.Precision == 0 {
			t.Precision, t.Scale = 38, 6
		}
		return t
	}
	return &contracts.Type{Kind: contracts.TypeNamed, Name: name}
}

func (p *parser) parseTypeParams(t *contracts.Type) {
	switch t.Kind {
	case contracts.TypeInt:
		lo := int64(p.intLit("int minimum"))
		t.Min = &lo
		if p.at(TokComma) {
			p.next()
			hi := int64(p.intLit("int maximum"))
			t.Max = &hi
		}
	case contracts.TypeDecimal:
		t.Precision = p.intLit("decimal precision")
		p.expect(TokComma, "','")
		t.Scale = p.intLit("decimal scale")
	case contracts.TypeMoney:
		t.Currency = p.ident()
	case contracts.TypeText:
		n := p.intLit("text bound")
		t.MaxLength = &n
	default:
		p.fail("type %s takes no parameters", t.Kind)
	}
}

func (p *parser) parseFieldMap(kind contracts.TypeKind) *contracts.Type {
	t := &contracts.Type{Kind: kind, Fields: map[string]*contracts.Type{}}
	p.expect(TokLBrace, "'{'")
	for !p.at(TokRBrace) {
		name := p.ident()
		p.expect(TokColon, "':'")
		if _, dup := t.Fields[name]; dup {
			p.errorf("duplicate field %q", name)
		}
		t.Fields[name] = p.parseType()
		if p.at(TokComma) {
			p.next()
		}
	}
	p.expect(TokRBrace, "'}'")
	return t
}

// --- predicates ---

// parsePredicate parses with conventional precedence: quantifiers bind
// loosest, then ∨, then ∧, comparisons, and unary ¬ tightest.
func (p *parser) parsePredicate() *contracts.Expr {
	if p.at(TokForAll) || p.at(TokExists) {
		kind := contracts.ExprForAll
		if p.at(TokExists) {
			kind = contracts.ExprExists
		}
		prov := p.prov()
		p.next()
		binder := p.ident()
		p.expect(TokIn, "'∈'")
		domain := p.parseExprPrimary()
		// '=>' separates the body: a '.' here would be ambiguous with field
		// access on the domain expression.
		p.expect(TokFatArrow, "'=>'")
		body := p.parsePredicate()
		return &contracts.Expr{Kind: kind, Binder: binder, Domain: domain, Body: body, Prov: prov}
	}
	return p.parseOr()
}

func (p *parser) parseOr() *contracts.Expr {
	left := p.parseAnd()
	for p.at(TokOr) {
		prov := p.prov()
		p.next()
		right := p.parseAnd()
		left = nary(contracts.ExprOr, left, right, prov)
	}
	return left
}

func (p *parser) parseAnd() *contracts.Expr {
	left := p.parseComparison()
	for p.at(TokAnd) {
		prov := p.prov()
		p.next()
		right := p.parseComparison()
		left = nary(contracts.ExprAnd, left, right, prov)
	}
	return left
}

func nary(kind contracts.ExprKind, left, right *contracts.Expr, prov contracts.Provenance) *contracts.Expr {
	if left.Kind == kind {
		left.Args = append(left.Args, right)
		return left
	}
	return &contracts.Expr{Kind: kind, Args: []*contracts.Expr{left, right}, Prov: prov}
}

var compareOps = map[TokKind]contracts.CompareOp{
	TokAssign:   contracts.OpEq,
	TokEq:       contracts.OpEq,
	TokNe:       contracts.OpNe,
	TokLAngleBr: contracts.OpLt,
	TokLe:       contracts.OpLe,
	TokRAngleBr: contracts.OpGt,
	TokGe:       contracts.OpGe,
}

func (p *parser) parseComparison() *contracts.Expr {
	left := p.parseUnary()
	if op, ok := compareOps[p.cur().Kind]; ok {
		prov := p.prov()
		p.next()
		right := p.parseUnary()
		return &contracts.Expr{Kind: contracts.ExprCompare, Op: op, Left: left, Right: right, Prov: prov}
	}
	return left
}

func (p *parser) parseUnary() *contracts.Expr {
	if p.at(TokNot) {
		prov := p.prov()
		p.next()
		return &contracts.Expr{Kind: contracts.ExprNot, Args: []*contracts.Expr{p.parseUnary()}, Prov: prov}
	}
	return p.parseExprPrimary()
}

// parseExprPrimary parses a value-producing expression: a literal, a
// verdict_present check, a parenthesized predicate, or an identifier with
// optional field accesses.
func (p *parser) parseExprPrimary() *contracts.Expr {
	prov := p.prov()
	switch {
	case p.at(TokLParen):
		p.next()
		e := p.parsePredicate()
		p.expect(TokRParen, "')'")
		return p.parseFieldChain(e)
	case p.atKeyword("verdict_present"):
		p.next()
		p.expect(TokLParen, "'('")
		vt := p.ident()
		p.expect(TokRParen, "')'")
		return &contracts.Expr{Kind: contracts.ExprVerdictPresent, VerdictType: vt, Prov: prov}
	case p.atKeyword("true"), p.atKeyword("false"):
		b := p.next().Text == "true"
		return &contracts.Expr{Kind: contracts.ExprLiteral, Literal: contracts.BoolValue(b), Prov: prov}
	case p.at(TokInt), p.at(TokDecimal), p.at(TokString), p.at(TokDate), p.at(TokDateTime):
		return &contracts.Expr{Kind: contracts.ExprLiteral, Literal: p.parseLiteral(), Prov: prov}
	case p.at(TokIdent):
		e := &contracts.Expr{Kind: contracts.ExprIdent, Ref: p.next().Text, Prov: prov}
		return p.parseFieldChain(e)
	default:
		p.fail("expected expression, found %s", p.cur())
		return nil
	}
}

func (p *parser) parseFieldChain(e *contracts.Expr) *contracts.Expr {
	for p.at(TokDot) && p.peek().Kind == TokIdent {
		prov := p.prov()
		p.next()
		e = &contracts.Expr{Kind: contracts.ExprField, Recv: e, FieldName: p.next().Text, Prov: prov}
	}
	return e
}

// parseLiteral parses a literal value token sequence. A number followed by
// a three-letter uppercase identifier is a money literal.
func (p *parser) parseLiteral() *contracts.Value {
	switch {
	case p.atKeyword("true"), p.atKeyword("false"):
		return contracts.BoolValue(p.next().Text == "true")
	case p.at(TokInt):
		t := p.next()
		if cur, ok := p.currencyCode(); ok {
			return contracts.MoneyVal(t.Text, cur)
		}
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			p.fail("invalid integer literal %q", t.Text)
		}
		return contracts.IntValue(n)
	case p.at(TokDecimal):
		t := p.next()
		if cur, ok := p.currencyCode(); ok {
			return contracts.MoneyVal(t.Text, cur)
		}
		return contracts.DecimalValue(t.Text)
	case p.at(TokString):
		return contracts.TextValue(p.next().Text)
	case p.at(TokDate):
		return contracts.DateValue(p.next().Text)
	case p.at(TokDateTime):
		return &contracts.Value{Kind: contracts.TypeDateTime, DateTime: p.next().Text}
	default:
		p.fail("expected literal, found %s", p.cur())
		return nil
	}
}

func (p *parser) currencyCode() (string, bool) {
	t := p.cur()
	if t.Kind == TokIdent && len(t.Text) == 3 && t.Text == strings.ToUpper(t.Text) && t.Text != strings.ToLower(t.Text) {
		p.next()
		return t.Text, true
	}
	return "", false
}
