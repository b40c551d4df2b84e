package sealstore

import (
	"fmt"
	"strings"
)

// The query planner compiles a TagFilter tree into a parameterized SQL
// predicate over the items_tags search rows. The predicate is provable
// without decrypting anything server-side: encrypted-tag equality becomes
// token equality (the token is computed client-side at query time with the
// profile key), plaintext-tag predicates compare stored values directly,
// and negation over an encrypted tag becomes absence from the matching set.

// queryBuilder accumulates bind arguments and renders dialect-specific
// placeholders.
type queryBuilder struct {
	d    dialect
	args []any
}

func (qb *queryBuilder) bind(v any) string {
	qb.args = append(qb.args, v)
	return qb.d.placeholder(len(qb.args))
}

// compileFilter renders the predicate for f, assuming the surrounding query
// aliases the items table as "i". category is required whenever the filter
// touches an encrypted tag, because blind index tokens are bound to the
// category.
func compileFilter(pc *profileCipher, cfg *config, category string, f *TagFilter, qb *queryBuilder) (string, error) {
	if f == nil {
		return "", nil
	}
	if err := f.validate(); err != nil {
		return "", err
	}
	return compileNode(pc, cfg, category, f, qb)
}

func compileNode(pc *profileCipher, cfg *config, category string, f *TagFilter, qb *queryBuilder) (string, error) {
	switch f.Op {
	case OpAnd, OpOr:
		join := " AND "
		if f.Op == OpOr {
			join = " OR "
		}
		parts := make([]string, 0, len(f.Children))
		for _, c := range f.Children {
			p, err := compileNode(pc, cfg, category, c, qb)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
		return "(" + strings.Join(parts, join) + ")", nil

	case OpNot:
		p, err := compileNode(pc, cfg, category, f.Children[0], qb)
		if err != nil {
			return "", err
		}
		return "NOT " + p, nil

	case OpExists:
		flag := 0
		if f.plaintextName() {
			flag = 1
		}
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM items_tags it WHERE it.item_id = i.id AND it.name = %s AND it.plaintext = %d)",
			qb.bind(f.Name), flag), nil

	case OpEq:
		if f.plaintextName() {
			return tagMatch(qb, f.Name, true, "=", []byte(f.Value)), nil
		}
		token, err := filterToken(pc, cfg, category, f.Name, f.Value)
		if err != nil {
			return "", err
		}
		return tagMatch(qb, f.Name, false, "=", token), nil

	case OpNeq:
		if f.plaintextName() {
			return tagMatch(qb, f.Name, true, "<>", []byte(f.Value)), nil
		}
		// The tag must exist with some token, but not the one the value
		// indexes to. There is no negated-index lookup.
		token, err := filterToken(pc, cfg, category, f.Name, f.Value)
		if err != nil {
			return "", err
		}
		exists := fmt.Sprintf(
			"EXISTS (SELECT 1 FROM items_tags it WHERE it.item_id = i.id AND it.name = %s AND it.plaintext = 0)",
			qb.bind(f.Name))
		match := tagMatch(qb, f.Name, false, "=", token)
		return "(" + exists + " AND NOT " + match + ")", nil

	case OpGt, OpGte, OpLt, OpLte:
		if !f.plaintextName() {
			return "", fmt.Errorf("%w: %s on blind-indexed tag %q", ErrUnsupportedQuery, f.Op, f.Name)
		}
		cmp := map[FilterOp]string{OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}[f.Op]
		return tagMatch(qb, f.Name, true, cmp, []byte(f.Value)), nil

	case OpIn:
		// The name is bound before the member values: the placeholders
		// render in that order, and SQLite's ? is positional.
		name := qb.bind(f.Name)
		flag := 0
		values := make([]string, 0, len(f.Values))
		if f.plaintextName() {
			flag = 1
			for _, v := range f.Values {
				values = append(values, qb.bind([]byte(v)))
			}
		} else {
			for _, v := range f.Values {
				token, err := filterToken(pc, cfg, category, f.Name, v)
				if err != nil {
					return "", err
				}
				values = append(values, qb.bind(token))
			}
		}
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM items_tags it WHERE it.item_id = i.id AND it.name = %s AND it.plaintext = %d AND it.value IN (%s))",
			name, flag, strings.Join(values, ", ")), nil

	default:
		return "", inputErr("unknown filter operator")
	}
}

// tagMatch renders one EXISTS predicate comparing the stored tag value.
func tagMatch(qb *queryBuilder, name string, plaintext bool, cmp string, value []byte) string {
	flag := 0
	if plaintext {
		flag = 1
	}
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM items_tags it WHERE it.item_id = i.id AND it.name = %s AND it.plaintext = %d AND it.value %s %s)",
		qb.bind(name), flag, cmp, qb.bind(value))
}

// filterToken computes the blind index token for an encrypted-tag leaf at
// query time. Tokens are category-bound, so filtering encrypted tags
// without a category is not expressible.
func filterToken(pc *profileCipher, cfg *config, category, tagName, tagValue string) ([]byte, error) {
	if category == "" {
		return nil, fmt.Errorf("%w: blind-indexed tag %q requires a category", ErrUnsupportedQuery, tagName)
	}
	return pc.blindIndex(category, tagName, tagValue, cfg.indexWidth, cfg.normalizer), nil
}
