package format

import (
	"strings"
	"testing"
)

func TestSignatureCache_CacheAndRetrieveSignature(t *testing.T) {
	cache := NewSignatureCache(nil)

	cache.CacheSignature("tool-1", "sig-abc")

	if got := cache.GetCachedSignature("tool-1"); got != "sig-abc" {
		t.Errorf("expected sig-abc, got %q", got)
	}
}

func TestSignatureCache_MissingToolUseIDReturnsEmpty(t *testing.T) {
	cache := NewSignatureCache(nil)

	if got := cache.GetCachedSignature("never-cached"); got != "" {
		t.Errorf("expected empty string for an uncached id, got %q", got)
	}
}

func TestSignatureCache_EmptyInputsAreNoOps(t *testing.T) {
	cache := NewSignatureCache(nil)

	cache.CacheSignature("", "sig-abc")
	cache.CacheSignature("tool-1", "")

	if got := cache.GetCachedSignature("tool-1"); got != "" {
		t.Errorf("expected empty signature not to be cached, got %q", got)
	}
	if got := cache.GetCachedSignature(""); got != "" {
		t.Errorf("expected empty tool use id to return empty, got %q", got)
	}
}

func TestSignatureCache_ThinkingSignatureRoundTrips(t *testing.T) {
	cache := NewSignatureCache(nil)
	signature := strings.Repeat("x", 64)

	cache.CacheThinkingSignature(signature, "gemini-2.5-pro")

	if got := cache.GetCachedSignatureFamily(signature); got != "gemini-2.5-pro" {
		t.Errorf("expected gemini-2.5-pro, got %q", got)
	}
}

func TestSignatureCache_ShortThinkingSignatureIsIgnored(t *testing.T) {
	cache := NewSignatureCache(nil)

	cache.CacheThinkingSignature("short", "gemini-2.5-pro")

	if got := cache.GetCachedSignatureFamily("short"); got != "" {
		t.Errorf("expected a too-short signature to never be cached, got %q", got)
	}
}

func TestSignatureCache_ClearThinkingSignatureCache(t *testing.T) {
	cache := NewSignatureCache(nil)
	signature := strings.Repeat("y", 64)
	cache.CacheThinkingSignature(signature, "gemini-2.5-pro")

	cache.ClearThinkingSignatureCache()

	if got := cache.GetCachedSignatureFamily(signature); got != "" {
		t.Errorf("expected cache to be empty after clearing, got %q", got)
	}
}

func TestGetGlobalSignatureCache_FallsBackToMemoryWhenUninitialized(t *testing.T) {
	cache := GetGlobalSignatureCache()
	if cache == nil {
		t.Fatal("expected a non-nil fallback signature cache")
	}
}
