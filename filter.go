package sealstore

import "strings"

// FilterOp is the operator of one TagFilter node.
type FilterOp uint8

const (
	OpEq FilterOp = iota + 1
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpExists
	OpAnd
	OpOr
	OpNot
)

func (op FilterOp) String() string {
	switch op {
	case OpEq:
		return "eq"
	case OpNeq:
		return "neq"
	case OpGt:
		return "gt"
	case OpGte:
		return "gte"
	case OpLt:
		return "lt"
	case OpLte:
		return "lte"
	case OpIn:
		return "in"
	case OpExists:
		return "exists"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNot:
		return "not"
	default:
		return "invalid"
	}
}

// TagFilter is an expression tree over tag predicates. Leaf nodes compare
// one tag; And, Or, and Not compose sub-filters. A nil *TagFilter matches
// every entry.
//
// Which predicates a tag supports depends on its kind (see Tag): ordering
// operators require a plaintext ("~"-prefixed) tag and fail compilation
// with ErrUnsupportedQuery on a blind-indexed one, since blind index tokens
// preserve no order.
type TagFilter struct {
	Op       FilterOp
	Name     string
	Value    string
	Values   []string
	Children []*TagFilter
}

// Eq matches entries whose named tag equals value.
func Eq(name, value string) *TagFilter { return &TagFilter{Op: OpEq, Name: name, Value: value} }

// Neq matches entries that carry the named tag with a different value.
func Neq(name, value string) *TagFilter { return &TagFilter{Op: OpNeq, Name: name, Value: value} }

// Gt matches entries whose named plaintext tag orders after value
// (bytewise comparison).
func Gt(name, value string) *TagFilter { return &TagFilter{Op: OpGt, Name: name, Value: value} }

// Gte is Gt or equal.
func Gte(name, value string) *TagFilter { return &TagFilter{Op: OpGte, Name: name, Value: value} }

// Lt matches entries whose named plaintext tag orders before value.
func Lt(name, value string) *TagFilter { return &TagFilter{Op: OpLt, Name: name, Value: value} }

// Lte is Lt or equal.
func Lte(name, value string) *TagFilter { return &TagFilter{Op: OpLte, Name: name, Value: value} }

// In matches entries whose named tag equals any of the values.
func In(name string, values ...string) *TagFilter {
	return &TagFilter{Op: OpIn, Name: name, Values: values}
}

// Exists matches entries that carry the named tag with any value.
func Exists(name string) *TagFilter { return &TagFilter{Op: OpExists, Name: name} }

// And matches entries satisfying every child filter.
func And(children ...*TagFilter) *TagFilter { return &TagFilter{Op: OpAnd, Children: children} }

// Or matches entries satisfying at least one child filter.
func Or(children ...*TagFilter) *TagFilter { return &TagFilter{Op: OpOr, Children: children} }

// Not matches entries not satisfying the child filter. Over a blind-indexed
// equality this means "absent from the matching set": there is no negative
// index to consult.
func Not(child *TagFilter) *TagFilter { return &TagFilter{Op: OpNot, Children: []*TagFilter{child}} }

// plaintextName reports whether the filter node references a plaintext tag.
func (f *TagFilter) plaintextName() bool {
	return strings.HasPrefix(f.Name, "~")
}

// validate checks the filter tree shape before compilation.
func (f *TagFilter) validate() error {
	if f == nil {
		return nil
	}
	switch f.Op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		if f.Name == "" {
			return inputErr("filter tag name is empty")
		}
	case OpIn:
		if f.Name == "" {
			return inputErr("filter tag name is empty")
		}
		if len(f.Values) == 0 {
			return inputErr("in filter has no values")
		}
	case OpExists:
		if f.Name == "" {
			return inputErr("filter tag name is empty")
		}
	case OpAnd, OpOr:
		if len(f.Children) == 0 {
			return inputErr("conjunction has no children")
		}
		for _, c := range f.Children {
			if err := c.validate(); err != nil {
				return err
			}
		}
	case OpNot:
		if len(f.Children) != 1 {
			return inputErr("not filter requires exactly one child")
		}
		return f.Children[0].validate()
	default:
		return inputErr("unknown filter operator")
	}
	return nil
}
