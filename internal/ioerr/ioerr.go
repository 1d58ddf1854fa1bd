// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package ioerr annotates errors from reads of guest memory. Running off
// the top of the address space is reported as io.EOF by the readers in
// this module, and these helpers decide whether that means "nothing here"
// or "structure truncated".
package ioerr

import (
	"io"

	"golang.org/x/xerrors"
)

func replaceEOF(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		if a == io.EOF {
			a = io.ErrUnexpectedEOF
		}
		out[i] = a
	}
	return out
}

// EOFUnexpected behaves like xerrors.Errorf, except that a raw io.EOF
// argument is reported as io.ErrUnexpectedEOF. Use it once part of a
// table or descriptor has already been read.
func EOFUnexpected(format string, args ...interface{}) error {
	return xerrors.Errorf(format, replaceEOF(args)...)
}

// PassEOF behaves like xerrors.Errorf, except that io.EOF is returned
// unannotated when it is one of the arguments. Use it for the first read
// of a structure, so that a scan can stop at the end of guest memory.
func PassEOF(format string, args ...interface{}) error {
	for _, a := range args {
		if a == io.EOF {
			return io.EOF
		}
	}
	return xerrors.Errorf(format, args...)
}
