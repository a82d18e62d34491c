// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package builtins resolves builtin-function calls to a concrete overload
// from the function name and the datatypes of the actual arguments.
package builtins

import (
	"sort"
	"strings"

	"github.com/tabletdb/tabletdb/pkg/sql/sqlerrors"
)

// Opcode identifies one overload of one builtin function.
type Opcode int

const (
	OpAddInt64 Opcode = iota
	OpAddDouble
	OpConcat
	OpSubInt64
	OpSubDouble
	OpNow
	OpTTL
	OpWriteTime
	OpToken
	OpCastInt32ToString
	OpCastInt64ToString
	OpCastDoubleToString
	OpCastTimestampToString
	OpLength
	OpAbsInt64
	OpAbsDouble
)

// castName is the builtin whose overload resolution accepts only exact
// signature matches: an implicit conversion in front of an explicit cast
// would make the requested conversion ambiguous.
const castName = "cast"

// Overload is one declared signature of a builtin function.
type Overload struct {
	Opcode     Opcode
	Name       string
	ParamTypes []DataType
	ReturnType DataType
}

// Builtins maps a lower-cased function name to its overload chain, in
// declaration order.
var Builtins = map[string][]Overload{
	"+": {
		{Opcode: OpAddInt64, Name: "+", ParamTypes: []DataType{Int64, Int64}, ReturnType: Int64},
		{Opcode: OpAddDouble, Name: "+", ParamTypes: []DataType{Double, Double}, ReturnType: Double},
		{Opcode: OpConcat, Name: "+", ParamTypes: []DataType{String, String}, ReturnType: String},
	},
	"-": {
		{Opcode: OpSubInt64, Name: "-", ParamTypes: []DataType{Int64, Int64}, ReturnType: Int64},
		{Opcode: OpSubDouble, Name: "-", ParamTypes: []DataType{Double, Double}, ReturnType: Double},
	},
	"now": {
		{Opcode: OpNow, Name: "now", ParamTypes: nil, ReturnType: Timestamp},
	},
	"ttl": {
		{Opcode: OpTTL, Name: "ttl", ParamTypes: []DataType{TypeArgs}, ReturnType: Int64},
	},
	"writetime": {
		{Opcode: OpWriteTime, Name: "writetime", ParamTypes: []DataType{TypeArgs}, ReturnType: Int64},
	},
	"token": {
		{Opcode: OpToken, Name: "token", ParamTypes: []DataType{TypeArgs}, ReturnType: Int64},
	},
	castName: {
		{Opcode: OpCastInt32ToString, Name: castName, ParamTypes: []DataType{Int32, String}, ReturnType: String},
		{Opcode: OpCastInt64ToString, Name: castName, ParamTypes: []DataType{Int64, String}, ReturnType: String},
		{Opcode: OpCastDoubleToString, Name: castName, ParamTypes: []DataType{Double, String}, ReturnType: String},
		{Opcode: OpCastTimestampToString, Name: castName, ParamTypes: []DataType{Timestamp, String}, ReturnType: String},
	},
	"length": {
		{Opcode: OpLength, Name: "length", ParamTypes: []DataType{String}, ReturnType: Int32},
	},
	"abs": {
		{Opcode: OpAbsInt64, Name: "abs", ParamTypes: []DataType{Int64}, ReturnType: Int64},
		{Opcode: OpAbsDouble, Name: "abs", ParamTypes: []DataType{Double}, ReturnType: Double},
	},
}

// AllBuiltinNames contains all builtin function names, sorted
// alphabetically. This can be used for a deterministic walk through the
// Builtins map.
var AllBuiltinNames []string

func init() {
	AllBuiltinNames = make([]string, 0, len(Builtins))
	for name := range Builtins {
		AllBuiltinNames = append(AllBuiltinNames, name)
	}
	sort.Strings(AllBuiltinNames)
}

// signatureMatch is a predicate comparing the datatypes of formal and
// actual parameters.
type signatureMatch func(signature, actualTypes []DataType) bool

// hasExactTypeSignature checks that the actual argument types are identical
// to the signature. A TypeArgs formal matches the rest of the arguments.
func hasExactTypeSignature(signature, actualTypes []DataType) bool {
	return matchSignature(signature, actualTypes, func(formal, actual DataType) bool {
		return formal == actual
	})
}

// hasSimilarTypeSignature is like hasExactTypeSignature but accepts
// arguments from the same numeric family as the formal type, which resolves
// overloading between integer widths and between the floating point types.
func hasSimilarTypeSignature(signature, actualTypes []DataType) bool {
	return matchSignature(signature, actualTypes, IsSimilar)
}

// hasCompatibleTypeSignature accepts any argument implicitly convertible to
// the formal type.
func hasCompatibleTypeSignature(signature, actualTypes []DataType) bool {
	return matchSignature(signature, actualTypes, IsImplicitlyConvertible)
}

func matchSignature(
	signature, actualTypes []DataType, ok func(formal, actual DataType) bool,
) bool {
	var index int
	for index = range signature {
		// A vararg formal matches the rest of the arguments.
		if signature[index] == TypeArgs {
			return true
		}
		if index >= len(actualTypes) || !ok(signature[index], actualTypes[index]) {
			return false
		}
	}
	return len(signature) == len(actualTypes)
}

// findMatch searches the overload chain for exactly one overload whose
// signature matches under compare, and resolves the return type against it.
func findMatch(
	compare signatureMatch, overloads []Overload, actualTypes []DataType, returnType *DataType,
) (*Overload, error) {
	var compatible *Overload
	for i := range overloads {
		if !compare(overloads[i].ParamTypes, actualTypes) {
			continue
		}
		if compatible != nil {
			return nil, sqlerrors.Newf(sqlerrors.InvalidArguments,
				"found too many matched builtin functions for %s", overloads[i].Name)
		}
		compatible = &overloads[i]
	}
	if compatible == nil {
		return nil, sqlerrors.New(sqlerrors.NotFound,
			"no match is found for builtin with the given arguments")
	}
	if returnType != nil {
		if *returnType == Unknown {
			*returnType = compatible.ReturnType
		} else if !IsImplicitlyConvertible(*returnType, compatible.ReturnType) {
			return nil, sqlerrors.Newf(sqlerrors.DatatypeMismatch,
				"return type %s of builtin %s does not match the expected type %s",
				compatible.ReturnType, compatible.Name, *returnType)
		}
	}
	return compatible, nil
}

// FindOpcode resolves a builtin call from its name and the datatypes of the
// actual arguments.
//
// Overloads are sought in this order: the exact signature match; the
// similar match (same numeric family, so +(int8, int8) resolves to the
// int64 overload); the compatible match (implicit widening conversions).
// The cast builtin accepts only the exact step. If returnType points at a
// non-Unknown type, the resolved overload's return type must be
// convertible to it; if it points at Unknown, it receives the resolved
// return type.
func FindOpcode(
	name string, actualTypes []DataType, returnType *DataType,
) (*Overload, error) {
	lower := strings.ToLower(name)
	overloads, ok := Builtins[lower]
	if !ok {
		return nil, sqlerrors.Newf(sqlerrors.NotFound,
			"builtin function %s is not found", name)
	}

	decl, err := findMatch(hasExactTypeSignature, overloads, actualTypes, returnType)
	if lower != castName && sqlerrors.HasCode(err, sqlerrors.NotFound) {
		decl, err = findMatch(hasSimilarTypeSignature, overloads, actualTypes, returnType)
		if sqlerrors.HasCode(err, sqlerrors.NotFound) {
			decl, err = findMatch(hasCompatibleTypeSignature, overloads, actualTypes, returnType)
		}
	}
	return decl, err
}
