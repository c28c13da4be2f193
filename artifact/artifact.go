// Package artifact loads schema and policy definitions. Definitions are
// authored in YAML, can be compiled into a compact binary artifact for
// distribution, and build into the runtime forms the engine consumes: a
// schema.Graph and a compiled policy.Table.
package artifact

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/warden"
	"github.com/syssam/warden/filter"
	"github.com/syssam/warden/policy"
	"github.com/syssam/warden/schema"
)

// Definition is the authored form of one schema with its access policies.
type Definition struct {
	Models   map[string]*ModelDef  `yaml:"models" msgpack:"models"`
	Policies map[string][]*RuleDef `yaml:"policies" msgpack:"policies"`
}

// ModelDef declares one model.
type ModelDef struct {
	ID        string                  `yaml:"id,omitempty" msgpack:"id"`
	Fields    map[string]*FieldDef    `yaml:"fields" msgpack:"fields"`
	Relations map[string]*RelationDef `yaml:"relations,omitempty" msgpack:"relations"`
}

// FieldDef declares one scalar field. In YAML it accepts the shorthand
// "name: type" as well as the full mapping form.
type FieldDef struct {
	Type     string `yaml:"type" msgpack:"type"`
	Optional bool   `yaml:"optional,omitempty" msgpack:"optional"`
}

// UnmarshalYAML accepts either a bare type string or a mapping.
func (f *FieldDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		f.Type = node.Value
		return nil
	}
	type plain FieldDef
	return node.Decode((*plain)(f))
}

// RelationDef declares one relation field.
type RelationDef struct {
	Target  string `yaml:"target" msgpack:"target"`
	Many    bool   `yaml:"many,omitempty" msgpack:"many"`
	BackRef string `yaml:"backref,omitempty" msgpack:"backref"`
	FK      string `yaml:"fk,omitempty" msgpack:"fk"`
}

// RuleDef declares one allow or deny rule. A missing condition means the
// rule applies unconditionally.
type RuleDef struct {
	Effect string   `yaml:"effect" msgpack:"effect"`
	Ops    []string `yaml:"ops" msgpack:"ops"`
	When   *ExprDef `yaml:"when,omitempty" msgpack:"when"`
}

// ExprDef is the authored form of a rule expression. Exactly one of the
// node forms must be set: and, or, not, always, a relation quantifier
// (rel + where), or a field comparison.
type ExprDef struct {
	And    []*ExprDef `yaml:"and,omitempty" msgpack:"and"`
	Or     []*ExprDef `yaml:"or,omitempty" msgpack:"or"`
	Not    *ExprDef   `yaml:"not,omitempty" msgpack:"not"`
	Always *bool      `yaml:"always,omitempty" msgpack:"always"`

	// Relation quantifier: some related row of rel satisfies where
	// (no related row, when none is set).
	Rel   string   `yaml:"rel,omitempty" msgpack:"rel"`
	None  bool     `yaml:"none,omitempty" msgpack:"none"`
	Where *ExprDef `yaml:"where,omitempty" msgpack:"where"`

	// Field comparison. Op defaults to eq. The right-hand side is one of
	// value (literal), caller (caller attribute) or ref (another field).
	Field     string `yaml:"field,omitempty" msgpack:"field"`
	Future    bool   `yaml:"future,omitempty" msgpack:"future"`
	Op        string `yaml:"op,omitempty" msgpack:"op"`
	Value     any    `yaml:"value,omitempty" msgpack:"value"`
	Caller    string `yaml:"caller,omitempty" msgpack:"caller"`
	Ref       string `yaml:"ref,omitempty" msgpack:"ref"`
	RefFuture bool   `yaml:"refFuture,omitempty" msgpack:"refFuture"`
}

// Parse decodes a YAML definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, warden.NewConfigError("parse definition: %v", err)
	}
	return &def, nil
}

// LoadFile reads a definition from disk: YAML for .yaml/.yml files, the
// binary artifact encoding otherwise.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return Parse(data)
	}
	return Decode(data)
}

// Build compiles the definition into the runtime forms the engine
// consumes.
func (d *Definition) Build() (*schema.Graph, *policy.Table, error) {
	g, err := d.graph()
	if err != nil {
		return nil, nil, err
	}
	rules, err := d.rules()
	if err != nil {
		return nil, nil, err
	}
	table, err := policy.Build(g, rules)
	if err != nil {
		return nil, nil, err
	}
	return g, table, nil
}

func (d *Definition) graph() (*schema.Graph, error) {
	names := make([]string, 0, len(d.Models))
	for name := range d.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	models := make([]*schema.Model, 0, len(names))
	for _, name := range names {
		md := d.Models[name]
		m := &schema.Model{Name: name, IDField: md.ID}
		fields := make([]string, 0, len(md.Fields))
		for f := range md.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, fname := range fields {
			fd := md.Fields[fname]
			ft, err := fieldType(fd.Type)
			if err != nil {
				return nil, warden.NewConfigError("model %q field %q: %v", name, fname, err)
			}
			m.Fields = append(m.Fields, schema.Field{Name: fname, Type: ft, Optional: fd.Optional})
		}
		rels := make([]string, 0, len(md.Relations))
		for r := range md.Relations {
			rels = append(rels, r)
		}
		sort.Strings(rels)
		for _, rname := range rels {
			rd := md.Relations[rname]
			m.Relations = append(m.Relations, schema.Relation{
				Name:    rname,
				Target:  rd.Target,
				Many:    rd.Many,
				BackRef: rd.BackRef,
				FK:      rd.FK,
			})
		}
		models = append(models, m)
	}
	return schema.NewGraph(models...)
}

func fieldType(s string) (schema.FieldType, error) {
	switch schema.FieldType(s) {
	case schema.TypeString, schema.TypeInt, schema.TypeFloat, schema.TypeBool, schema.TypeTime, schema.TypeBytes:
		return schema.FieldType(s), nil
	default:
		return "", warden.NewConfigError("unknown field type %q", s)
	}
}

func (d *Definition) rules() (map[string][]*policy.Rule, error) {
	out := make(map[string][]*policy.Rule, len(d.Policies))
	for model, defs := range d.Policies {
		for i, rd := range defs {
			r, err := rd.rule()
			if err != nil {
				return nil, warden.NewConfigError("policy %q rule %d: %v", model, i, err)
			}
			out[model] = append(out[model], r)
		}
	}
	return out, nil
}

func (rd *RuleDef) rule() (*policy.Rule, error) {
	var effect policy.Effect
	switch rd.Effect {
	case "allow":
		effect = policy.EffectAllow
	case "deny":
		effect = policy.EffectDeny
	default:
		return nil, warden.NewConfigError("unknown effect %q", rd.Effect)
	}
	if len(rd.Ops) == 0 {
		return nil, warden.NewConfigError("rule declares no operations")
	}
	var ops warden.Op
	for _, name := range rd.Ops {
		op, err := parseOp(name)
		if err != nil {
			return nil, err
		}
		ops |= op
	}
	expr, err := rd.When.expr()
	if err != nil {
		return nil, err
	}
	return &policy.Rule{Effect: effect, Ops: ops, Expr: expr}, nil
}

func parseOp(name string) (warden.Op, error) {
	switch name {
	case "create":
		return warden.OpCreate, nil
	case "read":
		return warden.OpRead, nil
	case "update":
		return warden.OpUpdate, nil
	case "delete":
		return warden.OpDelete, nil
	case "all":
		return warden.OpAll, nil
	default:
		return 0, warden.NewConfigError("unknown operation %q", name)
	}
}

func (e *ExprDef) expr() (policy.Expr, error) {
	if e == nil {
		return policy.Const(true), nil
	}
	switch {
	case e.Always != nil:
		return policy.Const(*e.Always), nil
	case len(e.And) > 0:
		exprs, err := exprList(e.And)
		if err != nil {
			return nil, err
		}
		return &policy.And{Exprs: exprs}, nil
	case len(e.Or) > 0:
		exprs, err := exprList(e.Or)
		if err != nil {
			return nil, err
		}
		return &policy.Or{Exprs: exprs}, nil
	case e.Not != nil:
		sub, err := e.Not.expr()
		if err != nil {
			return nil, err
		}
		return &policy.Not{Expr: sub}, nil
	case e.Rel != "":
		sub, err := e.Where.expr()
		if err != nil {
			return nil, err
		}
		return &policy.Some{Relation: e.Rel, Negate: e.None, Expr: sub}, nil
	case e.Field != "":
		return e.compare()
	default:
		return nil, warden.NewConfigError("empty expression node")
	}
}

func exprList(defs []*ExprDef) ([]policy.Expr, error) {
	out := make([]policy.Expr, 0, len(defs))
	for _, d := range defs {
		sub, err := d.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (e *ExprDef) compare() (policy.Expr, error) {
	op := filter.CmpOp(e.Op)
	if e.Op == "" {
		op = filter.OpEQ
	}
	var operand policy.Operand
	switch {
	case e.Caller != "":
		operand = policy.CallerRef{Attr: e.Caller}
	case e.Ref != "":
		operand = policy.FieldRef{Name: e.Ref, Future: e.RefFuture}
	default:
		operand = policy.Literal{Value: e.Value}
	}
	return &policy.Compare{Field: e.Field, Future: e.Future, Op: op, Value: operand}, nil
}
