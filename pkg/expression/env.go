package expression

import (
	"time"
)

// System variable names.
const (
	VarRoot    = "ROOT"
	VarCurrent = "CURRENT"
	VarNow     = "NOW"
	VarRemove  = "REMOVE"
)

// Env holds the state an expression is evaluated against: the document being
// processed, the evaluation time and user variables bound by $let, $map,
// $filter and $reduce. Child scopes see the variables of their parents.
type Env struct {
	root    interface{}
	current interface{}
	now     time.Time

	parent *Env
	vars   map[string]interface{}
}

// NewEnv creates an environment for doc. $$ROOT and $$CURRENT both refer to
// doc; $$NOW is now.
func NewEnv(doc interface{}, now time.Time) *Env {
	return &Env{
		root:    doc,
		current: doc,
		now:     now.UTC(),
	}
}

// Child creates a nested scope.
func (e *Env) Child() *Env {
	return &Env{
		root:    e.root,
		current: e.current,
		now:     e.now,
		parent:  e,
	}
}

// WithCurrent returns a copy of e whose $$CURRENT is doc.
func (e *Env) WithCurrent(doc interface{}) *Env {
	cp := *e
	cp.current = doc
	return &cp
}

// Bind sets a variable in this scope.
func (e *Env) Bind(name string, v interface{}) {
	if e.vars == nil {
		e.vars = make(map[string]interface{}, 2)
	}
	e.vars[name] = v
}

// Lookup resolves a variable, searching parent scopes. System variables are
// always defined.
func (e *Env) Lookup(name string) (interface{}, bool) {
	switch name {
	case VarRoot:
		return e.root, true
	case VarCurrent:
		return e.current, true
	case VarNow:
		return e.now, true
	}
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Root returns the document bound to $$ROOT.
func (e *Env) Root() interface{} {
	return e.root
}

// Current returns the document bound to $$CURRENT.
func (e *Env) Current() interface{} {
	return e.current
}

// Now returns the value of $$NOW.
func (e *Env) Now() time.Time {
	return e.now
}
