// Copyright 2025 The Flower Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flower

import (
	"errors"
	"io"
	"os"
	"testing"
)

func TestErrKind(t *testing.T) {
	if got := ErrKind(Errf(ErrorInvalidInput, "malformed key")); got != ErrorInvalidInput {
		t.Errorf("kind = %v, want invalid input", got)
	}
	if got := ErrKind(Err(ErrorIO, os.ErrNotExist)); got != ErrorIO {
		t.Errorf("kind = %v, want io", got)
	}
	if got := ErrKind(io.EOF); got != ErrorOther {
		t.Errorf("foreign errors should be other, got %v", got)
	}
	if got := ErrKind(Errf(ErrorProtocol, "dropped")); got != ErrorProtocol {
		t.Errorf("kind = %v, want protocol", got)
	}
}

func TestErrUnwrap(t *testing.T) {
	err := Err(ErrorIO, os.ErrNotExist)
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("wrapped cause should survive errors.Is")
	}

	err = Errf(ErrorOther, "lookup example.com failed: %w", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("%%w cause should survive errors.Is")
	}
	if err.Error() != "lookup example.com failed: unexpected EOF" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestIsKind(t *testing.T) {
	err := Errf(ErrorProtocol, "dropped")
	if !IsKind(err, ErrorProtocol) {
		t.Error("IsKind should match the error's kind")
	}
	if IsKind(err, ErrorIO) {
		t.Error("IsKind should not match another kind")
	}
	if IsKind(nil, ErrorOther) {
		t.Error("nil carries no kind")
	}
}
