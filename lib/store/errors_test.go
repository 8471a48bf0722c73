package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindsMatchSentinels(t *testing.T) {
	cause := errors.New("disk on fire")
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"not found", newError(KindNotFound, "get", 1, nil, "key %q", "k"), ErrNotFound, KindNotFound},
		{"write", newError(KindWrite, "put", 2, cause, "put"), ErrWrite, KindWrite},
		{"wrapped", fmt.Errorf("outer: %w", newError(KindCorruptStore, "size", 3, nil, "bad")), ErrCorruptStore, KindCorruptStore},
		{"joined", errors.Join(errors.New("other"), newError(KindDelete, "clear", 4, nil, "x")), ErrDelete, KindDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if errors.Is(tt.err, ErrTimeout) {
				t.Errorf("%v must not match ErrTimeout", tt.err)
			}
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %v, want %v", got, tt.kind)
			}
		})
	}

	if !errors.Is(newError(KindWrite, "put", 2, cause, "put"), cause) {
		t.Error("the cause must be reachable through Unwrap")
	}
	if got := KindOf(errors.New("foreign")); got != KindInternal {
		t.Errorf("KindOf(foreign) = %v, want Internal", got)
	}
}

func TestExistingStoreID(t *testing.T) {
	err := fmt.Errorf("create: %w", &Error{Kind: KindStoreExists, ExistingID: 17})
	if id, ok := ExistingStoreID(err); !ok || id != 17 {
		t.Errorf("ExistingStoreID() = %d, %v, want 17, true", id, ok)
	}
	if _, ok := ExistingStoreID(ErrNotFound); ok {
		t.Error("only StoreExists errors carry an existing id")
	}
}

func TestErrorMessage(t *testing.T) {
	err := newError(KindRead, "getNext", 9, errors.New("timeout"), "get %s", "a2V5")
	want := "Read in getNext (store 9): get a2V5: timeout"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if got := (&Error{Kind: KindNotFound}).Error(); got != "NotFound" {
		t.Errorf("Error() = %q, want %q", got, "NotFound")
	}
	if got := Kind(200).String(); got != "Unknown(200)" {
		t.Errorf("String() = %q", got)
	}
}

func TestPassOrWrapKeepsKinds(t *testing.T) {
	inner := newError(KindCorruptStore, "readStoreInformation", 1, nil, "bad")
	if got := KindOf(passOrWrap(KindRead, "listStores", 0, inner, "list")); got != KindCorruptStore {
		t.Errorf("kind = %v, want CorruptStore", got)
	}
	if got := KindOf(passOrWrap(KindRead, "listStores", 0, errors.New("x"), "list")); got != KindRead {
		t.Errorf("kind = %v, want Read", got)
	}
}
