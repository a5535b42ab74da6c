package pipeline

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/n9te9/graphql-parser/ast"
)

// ASTHash computes a stable 64-bit fingerprint of a selection set. Argument
// maps and directive lists hash order-insensitively (each entry hashed
// independently, then the sums combined with XOR), null and missing
// arguments hash distinctly, and NaN float values are rejected outright
// since a cache key must never depend on a value that isn't even equal to
// itself.
func ASTHash(selections []ast.Selection) (uint64, error) {
	var h uint64
	for _, sel := range selections {
		partial, err := hashSelection(sel)
		if err != nil {
			return 0, err
		}
		h ^= partial
	}
	return h, nil
}

func hashSelection(sel ast.Selection) (uint64, error) {
	switch s := sel.(type) {
	case *ast.Field:
		return hashField(s)
	case *ast.InlineFragment:
		return hashInlineFragment(s)
	case *ast.FragmentSpread:
		return seedHash("fragment-spread", s.Name.String())
	default:
		return seedHash("unknown-selection", fmt.Sprintf("%T", sel))
	}
}

func hashField(f *ast.Field) (uint64, error) {
	digest := xxhash.New()
	digest.WriteString("field:")
	digest.WriteString(f.Name.String())

	if f.Alias != nil && f.Alias.String() != "" {
		digest.WriteString(";alias:")
		digest.WriteString(f.Alias.String())
	}

	argHash, err := hashArguments(f.Arguments)
	if err != nil {
		return 0, err
	}
	writeUint64(digest, argHash)

	dirHash, err := hashDirectives(f.Directives)
	if err != nil {
		return 0, err
	}
	writeUint64(digest, dirHash)

	childHash, err := ASTHash(f.SelectionSet)
	if err != nil {
		return 0, err
	}
	writeUint64(digest, childHash)

	return digest.Sum64(), nil
}

func hashInlineFragment(f *ast.InlineFragment) (uint64, error) {
	digest := xxhash.New()
	digest.WriteString("inline-fragment:")
	if f.TypeCondition != nil {
		digest.WriteString(f.TypeCondition.Name.String())
	}

	dirHash, err := hashDirectives(f.Directives)
	if err != nil {
		return 0, err
	}
	writeUint64(digest, dirHash)

	childHash, err := ASTHash(f.SelectionSet)
	if err != nil {
		return 0, err
	}
	writeUint64(digest, childHash)

	return digest.Sum64(), nil
}

// hashArguments is order-insensitive: each argument's contribution is
// hashed independently and XORed together, so {a: 1, b: 2} and {b: 2, a: 1}
// collapse to the same fingerprint.
func hashArguments(args []*ast.Argument) (uint64, error) {
	var h uint64
	for _, arg := range args {
		valueHash, err := hashValue(arg.Value)
		if err != nil {
			return 0, err
		}
		digest := xxhash.New()
		digest.WriteString("arg:")
		digest.WriteString(arg.Name.String())
		digest.WriteString("=")
		writeUint64(digest, valueHash)
		h ^= digest.Sum64()
	}
	return h, nil
}

// hashDirectives hashes by name-then-args, order-insensitive across the
// directive list itself (two directive lists with the same members in a
// different order hash identically), matching spec §4.1.
func hashDirectives(dirs []*ast.Directive) (uint64, error) {
	var h uint64
	for _, dir := range dirs {
		argHash, err := hashArguments(dir.Arguments)
		if err != nil {
			return 0, err
		}
		digest := xxhash.New()
		digest.WriteString("directive:")
		digest.WriteString(dir.Name)
		writeUint64(digest, argHash)
		h ^= digest.Sum64()
	}
	return h, nil
}

func hashValue(v ast.Value) (uint64, error) {
	if v == nil {
		return seedHash("null", "")
	}

	switch val := v.(type) {
	case *ast.StringValue:
		return seedHash("string", val.Value)
	case *ast.IntValue:
		return seedHash("int", fmt.Sprintf("%d", val.Value))
	case *ast.FloatValue:
		if val.Value != val.Value { // NaN never equals itself
			return 0, fmt.Errorf("pipeline: NaN float value is not hashable")
		}
		return seedHash("float", fmt.Sprintf("%g", val.Value))
	case *ast.BooleanValue:
		return seedHash("bool", fmt.Sprintf("%t", val.Value))
	case *ast.EnumValue:
		return seedHash("enum", val.Value)
	case *ast.Variable:
		return seedHash("variable", val.Name)
	case *ast.ListValue:
		digest := xxhash.New()
		digest.WriteString("list:")
		for i, item := range val.Values {
			itemHash, err := hashValue(item)
			if err != nil {
				return 0, err
			}
			digest.WriteString(fmt.Sprintf("%d:", i))
			writeUint64(digest, itemHash)
		}
		return digest.Sum64(), nil
	case *ast.ObjectValue:
		var h uint64
		for _, field := range val.Fields {
			fieldHash, err := hashValue(field.Value)
			if err != nil {
				return 0, err
			}
			digest := xxhash.New()
			digest.WriteString("objfield:")
			digest.WriteString(field.Name.String())
			writeUint64(digest, fieldHash)
			h ^= digest.Sum64()
		}
		return h, nil
	default:
		return seedHash("value", fmt.Sprintf("%v", v))
	}
}

func seedHash(kind, value string) (uint64, error) {
	digest := xxhash.New()
	digest.WriteString(kind)
	digest.WriteString(":")
	digest.WriteString(value)
	return digest.Sum64(), nil
}

func writeUint64(digest *xxhash.Digest, v uint64) {
	fmt.Fprintf(digest, "%x", v)
}

// OperationHash combines an operation's body hash with its name, since two
// operations with identical selections but different names (multi-operation
// documents resolved by name) must not collide in the cache.
func OperationHash(op *ast.OperationDefinition) (uint64, error) {
	bodyHash, err := ASTHash(op.SelectionSet)
	if err != nil {
		return 0, err
	}

	name := ""
	if op.Name != nil {
		name = op.Name.String()
	}

	digest := xxhash.New()
	digest.WriteString("op:")
	digest.WriteString(string(op.Operation))
	digest.WriteString(";name:")
	digest.WriteString(name)
	writeUint64(digest, bodyHash)
	return digest.Sum64(), nil
}
