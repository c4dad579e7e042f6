package expression

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sandrolain/gomql/pkg/path"
	"github.com/sandrolain/gomql/pkg/types"
)

type projMode uint8

const (
	modeInclude projMode = iota
	modeExclude
	modeSet
)

func (m projMode) String() string {
	switch m {
	case modeInclude:
		return "inclusion"
	case modeExclude:
		return "exclusion"
	}
	return "set"
}

// projNode is one field of a projection tree. Exactly one of include,
// exclude, expr and children is set.
type projNode struct {
	key      string
	include  bool
	exclude  bool
	expr     Expr
	children []*projNode
	index    map[string]*projNode
	// computed is true when expr is set on this node or a descendant.
	computed bool
}

func (n *projNode) leaf() bool {
	return n.include || n.exclude || n.expr != nil
}

func (n *projNode) child(key string) *projNode {
	if c, ok := n.index[key]; ok {
		return c
	}
	c := &projNode{key: key}
	if n.index == nil {
		n.index = make(map[string]*projNode)
	}
	n.index[key] = c
	n.children = append(n.children, c)
	return c
}

// Projection reshapes documents. It implements the $project, $set (and
// $addFields) and $unset stages.
type Projection struct {
	root *projNode
	mode projMode
	// keepID is set for inclusion projections that did not exclude _id.
	keepID bool
}

// CompileProjection compiles a $project specification. Values 1 and true
// include a field, 0 and false exclude it, a non-empty plain object projects
// a sub-document and anything else is a computed field. Inclusions and
// exclusions cannot be mixed, except for excluding _id.
func CompileProjection(spec interface{}, opts ...types.Option) (*Projection, error) {
	return NewCompiler(types.NewOptions(opts...)).CompileProjection(spec)
}

// CompileSet compiles a $set or $addFields specification. Every value is an
// expression; plain objects are merged into existing sub-documents.
func CompileSet(spec interface{}, opts ...types.Option) (*Projection, error) {
	return NewCompiler(types.NewOptions(opts...)).CompileSet(spec)
}

// CompileUnset compiles an $unset specification: a field path or an array of
// field paths to remove.
func CompileUnset(spec interface{}) (*Projection, error) {
	var fields []interface{}
	if s, ok := spec.(string); ok {
		fields = []interface{}{s}
	} else if vals, ok := types.ArrayValues(spec); ok {
		fields = vals
	} else {
		return nil, types.CompileError(types.ErrBadArgument, "$unset", "specification must be a string or an array of strings")
	}
	if len(fields) == 0 {
		return nil, types.CompileError(types.ErrBadArgument, "$unset", "specification must be a non-empty array")
	}
	p := &Projection{root: &projNode{}, mode: modeExclude}
	for _, f := range fields {
		s, ok := f.(string)
		if !ok {
			return nil, types.CompileError(types.ErrBadArgument, "$unset", "specification must be a string or an array of strings")
		}
		n, err := p.node("$unset", s)
		if err != nil {
			return nil, err
		}
		n.exclude = true
	}
	return p, nil
}

// CompileProjection compiles a $project specification.
func (c *Compiler) CompileProjection(spec interface{}) (*Projection, error) {
	if types.Wrap(spec).Kind != types.KindObject {
		return nil, types.CompileError(types.ErrBadArgument, "$project", "specification must be an object")
	}
	if types.ObjectLen(spec) == 0 {
		return nil, types.CompileError(types.ErrBadArgument, "$project", "specification must have at least one field")
	}
	p := &Projection{root: &projNode{}}
	var includes, excludes int
	idExcluded := false
	var walk func(prefix string, obj interface{}) error
	walk = func(prefix string, obj interface{}) error {
		for _, f := range types.Fields(obj) {
			key := prefix + f.Key
			v := types.Wrap(f.Value)
			switch {
			case v.Kind == types.KindBoolean || v.Kind.IsNumeric():
				n, err := p.node("$project", key)
				if err != nil {
					return err
				}
				if isTrue(v) {
					n.include = true
					includes++
				} else {
					n.exclude = true
					if key == "_id" {
						idExcluded = true
					} else {
						excludes++
					}
				}
			case v.Kind == types.KindObject:
				if types.ObjectLen(f.Value) == 0 {
					return types.CompileError(types.ErrBadArgument, "$project", "an empty object is not a valid value").WithPath(key)
				}
				if _, err := p.node("$project", key); err != nil {
					return err
				}
				if err := walk(key+".", f.Value); err != nil {
					return err
				}
			default:
				n, err := p.node("$project", key)
				if err != nil {
					return err
				}
				e, err := c.compile(f.Value, nil)
				if err != nil {
					return err
				}
				n.expr = e
				includes++
			}
		}
		return nil
	}
	if err := walk("", spec); err != nil {
		return nil, err
	}
	switch {
	case includes > 0 && excludes > 0:
		return nil, types.CompileError(types.ErrBadArgument, "$project", "cannot mix inclusion and exclusion in a projection")
	case includes > 0:
		p.mode = modeInclude
		p.keepID = !idExcluded
	default:
		p.mode = modeExclude
	}
	markComputed(p.root)
	c.opts.Logger.Debug("compiled projection", zap.Stringer("mode", p.mode), zap.Int("fields", len(p.root.children)))
	return p, nil
}

// CompileSet compiles a $set or $addFields specification.
func (c *Compiler) CompileSet(spec interface{}) (*Projection, error) {
	if types.Wrap(spec).Kind != types.KindObject {
		return nil, types.CompileError(types.ErrBadArgument, "$set", "specification must be an object")
	}
	if types.ObjectLen(spec) == 0 {
		return nil, types.CompileError(types.ErrBadArgument, "$set", "specification must have at least one field")
	}
	p := &Projection{root: &projNode{}, mode: modeSet}
	var walk func(prefix string, obj interface{}) error
	walk = func(prefix string, obj interface{}) error {
		for _, f := range types.Fields(obj) {
			key := prefix + f.Key
			if types.Wrap(f.Value).Kind == types.KindObject && types.ObjectLen(f.Value) > 0 {
				if _, err := p.node("$set", key); err != nil {
					return err
				}
				if err := walk(key+".", f.Value); err != nil {
					return err
				}
				continue
			}
			n, err := p.node("$set", key)
			if err != nil {
				return err
			}
			// numbers and booleans are values here, never inclusion flags
			e, err := c.compile(f.Value, nil)
			if err != nil {
				return err
			}
			n.expr = e
		}
		return nil
	}
	if err := walk("", spec); err != nil {
		return nil, err
	}
	markComputed(p.root)
	c.opts.Logger.Debug("compiled projection", zap.Stringer("mode", p.mode), zap.Int("fields", len(p.root.children)))
	return p, nil
}

func isTrue(n types.Node) bool {
	if b, ok := n.Value.(bool); ok {
		return b
	}
	f, _ := types.AsFloat(n)
	return f != 0
}

// node returns the tree node for a dotted field, creating it. A field that is
// already a leaf, or a prefix of one, is a path collision.
func (p *Projection) node(op, field string) (*projNode, error) {
	for _, s := range strings.Split(field, ".") {
		if strings.HasPrefix(s, "$") {
			return nil, types.CompileError(types.ErrBadPath, op, "field names may not start with '$'").WithPath(field)
		}
	}
	segs, err := path.Split(field)
	if err != nil {
		return nil, err
	}
	n := p.root
	for i, s := range segs {
		if n.leaf() {
			return nil, types.CompileError(types.ErrConflictingPaths, op, "path collision at %s", strings.Join(segs[:i], ".")).WithPath(field)
		}
		n = n.child(s)
	}
	if n.leaf() || len(n.children) > 0 {
		return nil, types.CompileError(types.ErrConflictingPaths, op, "path collision").WithPath(field)
	}
	return n, nil
}

func markComputed(n *projNode) bool {
	n.computed = n.expr != nil
	for _, c := range n.children {
		if markComputed(c) {
			n.computed = true
		}
	}
	return n.computed
}

// IsExclusion reports whether the projection only removes fields.
func (p *Projection) IsExclusion() bool {
	return p.mode == modeExclude
}

// Apply reshapes env.Current(). The input document is never modified.
func (p *Projection) Apply(env *Env) (interface{}, error) {
	doc := env.Current()
	if !types.IsObject(doc) {
		return nil, types.TypeMismatch(p.mode.String(), "document is a %s, not an object", types.Wrap(doc).Kind)
	}
	switch p.mode {
	case modeInclude:
		return p.include(doc, p.root, env, true)
	case modeExclude:
		return exclude(doc, p.root), nil
	}
	return set(doc, p.root, env)
}

func (p *Projection) include(doc interface{}, node *projNode, env *Env, top bool) (interface{}, error) {
	out := types.NewObjectLike(doc)
	if top && p.keepID {
		if c, ok := node.index["_id"]; !ok || c.include {
			if id, ok := types.Field(doc, "_id"); ok {
				out = types.SetField(out, "_id", id)
			}
		}
	}
	for _, f := range types.Fields(doc) {
		c, ok := node.index[f.Key]
		if !ok || (top && f.Key == "_id" && c.include) {
			continue
		}
		switch {
		case c.include:
			out = types.SetField(out, f.Key, f.Value)
		case len(c.children) > 0:
			v, err := p.includeValue(f.Value, c, env)
			if err != nil {
				return nil, err
			}
			if !IsMissing(v) {
				out = types.SetField(out, f.Key, v)
			}
		}
	}
	for _, c := range node.children {
		switch {
		case c.expr != nil:
			v, err := c.expr.Eval(env)
			if err != nil {
				return nil, err
			}
			if !IsMissing(v) {
				out = types.SetField(out, c.key, v)
			}
		case c.computed:
			if _, ok := types.Field(doc, c.key); ok {
				continue
			}
			v, err := p.include(types.NewObjectLike(doc), c, env, false)
			if err != nil {
				return nil, err
			}
			out = types.SetField(out, c.key, v)
		}
	}
	return out, nil
}

// includeValue applies a sub-projection to a field value. Arrays are projected
// element-wise; scalars are dropped unless the sub-projection computes fields.
func (p *Projection) includeValue(v interface{}, node *projNode, env *Env) (interface{}, error) {
	if types.IsObject(v) {
		return p.include(v, node, env, false)
	}
	if vals, ok := types.ArrayValues(v); ok {
		out := make([]interface{}, 0, len(vals))
		for _, el := range vals {
			r, err := p.includeValue(el, node, env)
			if err != nil {
				return nil, err
			}
			if !IsMissing(r) {
				out = append(out, r)
			}
		}
		return types.NewArrayLike(v, out), nil
	}
	if node.computed {
		return p.include(types.NewObjectLike(nil), node, env, false)
	}
	return types.Missing, nil
}

func exclude(doc interface{}, node *projNode) interface{} {
	out := types.ShallowCopy(doc)
	for _, c := range node.children {
		if c.exclude {
			out = types.DeleteField(out, c.key)
			continue
		}
		if v, ok := types.Field(out, c.key); ok {
			out = types.SetField(out, c.key, excludeValue(v, c))
		}
	}
	return out
}

func excludeValue(v interface{}, node *projNode) interface{} {
	if types.IsObject(v) {
		return exclude(v, node)
	}
	if vals, ok := types.ArrayValues(v); ok {
		out := make([]interface{}, len(vals))
		for i, el := range vals {
			out[i] = excludeValue(el, node)
		}
		return types.NewArrayLike(v, out)
	}
	return v
}

func set(doc interface{}, node *projNode, env *Env) (interface{}, error) {
	out := types.ShallowCopy(doc)
	for _, c := range node.children {
		if c.expr != nil {
			v, err := c.expr.Eval(env)
			if err != nil {
				return nil, err
			}
			if IsMissing(v) {
				out = types.DeleteField(out, c.key)
			} else {
				out = types.SetField(out, c.key, v)
			}
			continue
		}
		cur, ok := types.Field(out, c.key)
		if !ok {
			cur = types.Missing
		}
		v, err := setValue(cur, out, c, env)
		if err != nil {
			return nil, err
		}
		out = types.SetField(out, c.key, v)
	}
	return out, nil
}

// setValue merges a sub-specification into a field value. Array elements are
// merged one by one; scalars are replaced by a new sub-document.
func setValue(v, like interface{}, node *projNode, env *Env) (interface{}, error) {
	if types.IsObject(v) {
		return set(v, node, env)
	}
	if vals, ok := types.ArrayValues(v); ok {
		out := make([]interface{}, len(vals))
		for i, el := range vals {
			r, err := setValue(el, like, node, env)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return types.NewArrayLike(v, out), nil
	}
	return set(types.NewObjectLike(like), node, env)
}
