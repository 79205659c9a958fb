package errors

import (
	"fmt"
	"testing"
)

var errBase = New("base failure")

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatal("Wrap(nil) should return nil")
	}

	err := Wrap(errBase, "open device")
	if err.Error() != "open device: base failure" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !Is(err, errBase) {
		t.Error("wrapped error should match base with Is")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Fatal("Wrapf(nil) should return nil")
	}

	err := Wrapf(errBase, "write %s at %d", "/dev/sdb", 4096)
	if err.Error() != "write /dev/sdb at 4096: base failure" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

type codeError struct{ code int }

func (e *codeError) Error() string { return fmt.Sprintf("code %d", e.code) }

func TestAs(t *testing.T) {
	err := Wrap(&codeError{code: 3}, "validate")

	var target *codeError
	if !As(err, &target) {
		t.Fatal("As should find codeError in chain")
	}
	if target.code != 3 {
		t.Errorf("code = %d, want 3", target.code)
	}
}
