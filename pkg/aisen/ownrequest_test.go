package aisen

import (
	"errors"
	"fmt"
	"testing"
)

type ownRequestValue struct{}

func (ownRequestValue) OwnRequest() bool { return true }

func TestIsOwnRequest(t *testing.T) {
	base := errors.New("connection refused")
	marked := MarkOwnRequest(base)

	if !IsOwnRequest(marked) {
		t.Error("marked error should be an own request")
	}
	if !errors.Is(marked, base) {
		t.Error("marked error should unwrap to the original")
	}
	if !IsOwnRequest(fmt.Errorf("deliver: %w", marked)) {
		t.Error("wrapped marked error should be an own request")
	}
	if IsOwnRequest(base) {
		t.Error("plain error should not be an own request")
	}
	if !IsOwnRequest(ownRequestValue{}) {
		t.Error("non-error values implementing OwnRequester should be detected")
	}
	if IsOwnRequest("string") || IsOwnRequest(nil) {
		t.Error("primitives are never own requests")
	}
	if MarkOwnRequest(nil) != nil {
		t.Error("MarkOwnRequest(nil) should be nil")
	}
}
