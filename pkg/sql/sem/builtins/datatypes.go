// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package builtins

// DataType enumerates the value types a builtin can accept or return.
type DataType int

const (
	// Unknown marks an undetermined type, e.g. an unresolved return type.
	Unknown DataType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Float
	Double
	String
	Timestamp
	// TypeArgs in a signature accepts the rest of the arguments, whatever
	// their types.
	TypeArgs
)

func (d DataType) String() string {
	switch d {
	case Unknown:
		return "unknown"
	case Bool:
		return "bool"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float:
		return "float"
	case Double:
		return "double"
	case String:
		return "string"
	case Timestamp:
		return "timestamp"
	case TypeArgs:
		return "typeargs"
	default:
		return "invalid"
	}
}

// intWidth orders the integer types by width; non-integers get 0.
func intWidth(d DataType) int {
	switch d {
	case Int8:
		return 1
	case Int16:
		return 2
	case Int32:
		return 4
	case Int64:
		return 8
	default:
		return 0
	}
}

func isInteger(d DataType) bool {
	return intWidth(d) != 0
}

func isFloatingPoint(d DataType) bool {
	return d == Float || d == Double
}

// IsSimilar reports whether two types belong to the same numeric family.
// Similarity helps resolve overloads between integers and floating point:
// Int8 is similar to Int64 but not to Double; Float is similar to Double.
// A type is always similar to itself.
func IsSimilar(a, b DataType) bool {
	if a == b {
		return true
	}
	if isInteger(a) && isInteger(b) {
		return true
	}
	return isFloatingPoint(a) && isFloatingPoint(b)
}

// IsImplicitlyConvertible reports whether a value of type source may be
// passed where formal is expected. Integers widen to wider integers and to
// either floating point type, and Float widens to Double. The narrowing
// direction is not implicit.
func IsImplicitlyConvertible(formal, source DataType) bool {
	if formal == source {
		return true
	}
	if isInteger(source) {
		if isInteger(formal) {
			return intWidth(source) <= intWidth(formal)
		}
		return isFloatingPoint(formal)
	}
	return source == Float && formal == Double
}
