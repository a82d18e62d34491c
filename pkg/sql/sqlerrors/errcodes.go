// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package sqlerrors defines the error codes surfaced by the query layer and
// maps them to readable text. The text does not have to be English; this
// file can be translated into any supported language.
package sqlerrors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Code identifies a query-layer error condition. Codes are negative for
// errors, zero for success, and positive for warnings. Each range of error
// codes groups a processing stage.
type Code int64

const (
	// Success reports the absence of an error.
	Success Code = 0

	// Implementation related errors [-1, -50).

	Failure                  Code = -1
	SQLStatementInvalid      Code = -2
	CQLStatementInvalid      Code = -3
	FeatureNotYetImplemented Code = -4
	FeatureNotSupported      Code = -5

	// Lexical errors [-50, -100).

	LexicalError                    Code = -50
	CharacterNotInRepertoire        Code = -51
	InvalidEscapeSequence           Code = -52
	NameTooLong                     Code = -53
	NonstandardUseOfEscapeCharacter Code = -54

	// Syntax errors [-100, -200).

	SyntaxError           Code = -100
	InvalidParameterValue Code = -101

	// Semantic errors [-200, -300).

	SemError                     Code = -200
	DatatypeMismatch             Code = -201
	DuplicateTable               Code = -202
	UndefinedColumn              Code = -203
	DuplicateColumn              Code = -204
	MissingPrimaryKey            Code = -205
	InvalidPrimaryColumnType     Code = -206
	MissingArgumentForPrimaryKey Code = -207
	NullArgumentForPrimaryKey    Code = -208
	IncomparableDatatypes        Code = -209
	InvalidTableProperty         Code = -210
	DuplicateTableProperty       Code = -211
	InvalidDatatype              Code = -212
	SystemNamespaceReadonly      Code = -213
	InvalidFunctionCall          Code = -214

	// Execution errors [-300, ...).

	ExecError              Code = -300
	TableNotFound          Code = -301
	InvalidTableDefinition Code = -302
	WrongMetadataVersion   Code = -303
	InvalidArguments       Code = -304
	TooFewArguments        Code = -305
	TooManyArguments       Code = -306
	KeyspaceAlreadyExists  Code = -307
	KeyspaceNotFound       Code = -308
	TabletNotFound         Code = -309

	// Warnings start at 100.

	NotFound Code = 100
)

var errorText = map[Code]string{
	Failure:                  "",
	SQLStatementInvalid:      "Invalid SQL Statement",
	CQLStatementInvalid:      "Invalid CQL Statement",
	FeatureNotYetImplemented: "Feature Not Yet Implemented",
	FeatureNotSupported:      "Feature Not Supported",

	LexicalError:                    "Lexical Error",
	CharacterNotInRepertoire:        "Character Not in Repertoire",
	InvalidEscapeSequence:           "Invalid Escape Sequence",
	NameTooLong:                     "Name Too Long",
	NonstandardUseOfEscapeCharacter: "Nonstandard Use of Escape Character",

	SyntaxError:           "Syntax Error",
	InvalidParameterValue: "Invalid Parameter Value",

	SemError:                     "Semantic Error",
	DatatypeMismatch:             "Datatype Mismatch",
	DuplicateTable:               "Duplicate Table",
	UndefinedColumn:              "Undefined Column",
	DuplicateColumn:              "Duplicate Column",
	MissingPrimaryKey:            "Missing Primary Key",
	InvalidPrimaryColumnType:     "Invalid Primary Key Column Datatype",
	MissingArgumentForPrimaryKey: "Missing Argument for Primary Key",
	NullArgumentForPrimaryKey:    "Null Argument for Primary Key",
	IncomparableDatatypes:        "Incomparable Datatypes",
	InvalidTableProperty:         "Invalid Table Property",
	DuplicateTableProperty:       "Duplicate Table Property",
	InvalidDatatype:              "Invalid Datatype",
	SystemNamespaceReadonly:      "system namespace is read-only",
	InvalidFunctionCall:          "Invalid Function Call",

	ExecError:              "Execution Error",
	TableNotFound:          "Table Not Found",
	InvalidTableDefinition: "Invalid Table Definition",
	WrongMetadataVersion:   "Wrong Metadata Version",
	InvalidArguments:       "Invalid Arguments",
	TooFewArguments:        "Too Few Arguments",
	TooManyArguments:       "Too Many Arguments",
	KeyspaceAlreadyExists:  "Keyspace Already Exists",
	KeyspaceNotFound:       "Keyspace Not Found",
	TabletNotFound:         "Tablet Not Found",

	Success: "Success",

	NotFound: "Not Found",
}

// ErrorText converts a code into readable text.
func ErrorText(code Code) string {
	text, ok := errorText[code]
	if !ok {
		return fmt.Sprintf("unknown error code %d", int64(code))
	}
	return text
}

// withCode attaches a Code to an error chain. It survives wrapping through
// the errors package.
type withCode struct {
	cause error
	code  Code
}

func (w *withCode) Error() string { return w.cause.Error() }
func (w *withCode) Cause() error  { return w.cause }
func (w *withCode) Unwrap() error { return w.cause }

// New creates an error carrying code. An empty msg falls back to the code's
// table text.
func New(code Code, msg string) error {
	if msg == "" {
		msg = ErrorText(code)
	}
	return &withCode{cause: errors.NewWithDepth(1, msg), code: code}
}

// Newf creates an error carrying code with a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return &withCode{cause: errors.NewWithDepthf(1, format, args...), code: code}
}

// Wrapf wraps err with a formatted prefix, attaching code.
func Wrapf(err error, code Code, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &withCode{cause: errors.WrapWithDepthf(1, err, format, args...), code: code}
}

// GetCode extracts the code from an error chain. Errors that did not
// originate in the query layer decode as Failure.
func GetCode(err error) Code {
	if err == nil {
		return Success
	}
	var w *withCode
	if errors.As(err, &w) {
		return w.code
	}
	return Failure
}

// HasCode reports whether GetCode(err) is code: only the outermost code in
// the chain is compared.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}
