package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// #region rule-node

// RuleNode is the declarative form of a decision table: either a branch on
// one discrete attribute, keyed by its domain values ("true"/"false" for
// booleans, category names for categoricals), or a terminal action.
type RuleNode struct {
	Attribute string               `yaml:"attribute,omitempty" json:"attribute,omitempty"`
	Branches  map[string]*RuleNode `yaml:"branches,omitempty" json:"branches,omitempty"`
	Action    schema.Action        `yaml:"action,omitempty" json:"action,omitempty"`
}

// Leaf returns a terminal node.
func Leaf(a schema.Action) *RuleNode { return &RuleNode{Action: a} }

// Branch returns a node that splits on attr.
func Branch(attr string, branches map[string]*RuleNode) *RuleNode {
	return &RuleNode{Attribute: attr, Branches: branches}
}

// #endregion rule-node

// #region rule-table

type compiledNode struct {
	attr     int // position in the feature vector; -1 for a leaf
	children []*compiledNode
	action   schema.Action
}

// RuleTable is a validated, immutable decision table.
type RuleTable struct {
	codec *schema.Codec
	root  *compiledNode
	rules []Rule
}

// Condition is one attribute test on a rule path.
type Condition struct {
	Attribute string
	Value     string
}

// Rule is one complete root-to-leaf path.
type Rule struct {
	Conditions []Condition
	Action     schema.Action
}

func (r Rule) String() string {
	parts := make([]string, len(r.Conditions))
	for i, c := range r.Conditions {
		parts[i] = c.Attribute + "=" + c.Value
	}
	return strings.Join(parts, ",") + " -> " + string(r.Action)
}

// NewRuleTable compiles root against the codec's schema and vocabulary.
// Every branch must cover its attribute's whole domain, so Decide can never
// reach a missing entry; violations are reported as ErrIncompletePolicy.
func NewRuleTable(codec *schema.Codec, root *RuleNode) (*RuleTable, error) {
	if codec == nil {
		return nil, fmt.Errorf("rule table: nil codec")
	}
	c := &compiler{codec: codec, onPath: map[string]bool{}}
	compiled, err := c.compile(root, nil)
	if err != nil {
		return nil, err
	}
	return &RuleTable{codec: codec, root: compiled, rules: c.rules}, nil
}

// Kind implements Policy.
func (t *RuleTable) Kind() Kind { return KindRuleTable }

// Decide walks the table. Identical vectors always take the identical path.
func (t *RuleTable) Decide(vec schema.FeatureVector) (schema.Action, error) {
	if len(vec) != t.codec.Schema().Arity() {
		return "", fmt.Errorf("%w: vector length %d, schema arity %d", schema.ErrSchemaMismatch, len(vec), t.codec.Schema().Arity())
	}
	n := t.root
	for n.attr >= 0 {
		idx := int(vec[n.attr])
		if idx < 0 || idx >= len(n.children) || float64(idx) != vec[n.attr] {
			return "", fmt.Errorf("%w: feature %d value %v outside domain", schema.ErrSchemaMismatch, n.attr, vec[n.attr])
		}
		n = n.children[idx]
	}
	return n.action, nil
}

// Rules lists every root-to-leaf path in domain order.
func (t *RuleTable) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// #endregion rule-table

// #region compile

type compiler struct {
	codec  *schema.Codec
	onPath map[string]bool
	rules  []Rule
}

func (c *compiler) compile(n *RuleNode, path []Condition) (*compiledNode, error) {
	where := pathString(path)
	if n == nil {
		return nil, fmt.Errorf("%w: no entry at %s", ErrIncompletePolicy, where)
	}
	isLeaf := n.Action != ""
	isBranch := n.Attribute != "" || len(n.Branches) > 0
	switch {
	case isLeaf && isBranch:
		return nil, fmt.Errorf("%w: node at %s has both an action and branches", ErrIncompletePolicy, where)
	case !isLeaf && !isBranch:
		return nil, fmt.Errorf("%w: empty node at %s", ErrIncompletePolicy, where)
	case isLeaf:
		if _, err := c.codec.Label(n.Action); err != nil {
			return nil, fmt.Errorf("%w: leaf at %s: %v", ErrIncompletePolicy, where, err)
		}
		conds := make([]Condition, len(path))
		copy(conds, path)
		c.rules = append(c.rules, Rule{Conditions: conds, Action: n.Action})
		return &compiledNode{attr: -1, action: n.Action}, nil
	}

	attr, pos, ok := c.codec.Schema().Attribute(n.Attribute)
	if !ok {
		return nil, fmt.Errorf("%w: unknown attribute %q at %s", ErrIncompletePolicy, n.Attribute, where)
	}
	if !attr.Discrete() {
		return nil, fmt.Errorf("%w: attribute %q at %s is not discrete", ErrIncompletePolicy, n.Attribute, where)
	}
	if c.onPath[attr.Name] {
		return nil, fmt.Errorf("%w: attribute %q tested twice on %s", ErrIncompletePolicy, attr.Name, where)
	}

	domain := attr.Domain()
	known := make(map[string]bool, len(domain))
	for _, v := range domain {
		known[v] = true
	}
	var extra []string
	for k := range n.Branches {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, fmt.Errorf("%w: attribute %q at %s has branches outside its domain: %v", ErrIncompletePolicy, attr.Name, where, extra)
	}

	c.onPath[attr.Name] = true
	defer delete(c.onPath, attr.Name)

	node := &compiledNode{attr: pos, children: make([]*compiledNode, len(domain))}
	for i, v := range domain {
		child, ok := n.Branches[v]
		if !ok {
			return nil, fmt.Errorf("%w: attribute %q at %s has no branch for %q", ErrIncompletePolicy, attr.Name, where, v)
		}
		compiled, err := c.compile(child, append(path[:len(path):len(path)], Condition{Attribute: attr.Name, Value: v}))
		if err != nil {
			return nil, err
		}
		node.children[i] = compiled
	}
	return node, nil
}

func pathString(path []Condition) string {
	if len(path) == 0 {
		return "root"
	}
	parts := make([]string, len(path))
	for i, c := range path {
		parts[i] = c.Attribute + "=" + c.Value
	}
	return strings.Join(parts, "/")
}

// #endregion compile
