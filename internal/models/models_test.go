package models

import (
	"testing"
	"time"
)

func TestVariantStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to VariantStatus
		want     bool
	}{
		{VariantStatusDraft, VariantStatusPendingTranslation, true},
		{VariantStatusPendingTranslation, VariantStatusDraft, true},
		{VariantStatusPendingTranslation, VariantStatusFailed, true},
		{VariantStatusDraft, VariantStatusPublishing, true},
		{VariantStatusPendingPublish, VariantStatusPublishing, true},
		{VariantStatusPublishing, VariantStatusPublished, true},
		{VariantStatusPublishing, VariantStatusPendingPublish, true},
		{VariantStatusPublishing, VariantStatusFailed, true},
		{VariantStatusPublished, VariantStatusDraft, true},
		{VariantStatusFailed, VariantStatusPendingPublish, true},
		{VariantStatusFailed, VariantStatusPendingTranslation, true},
		{VariantStatusPublished, VariantStatusPublished, true},

		{VariantStatusPendingTranslation, VariantStatusPublishing, false},
		{VariantStatusPublished, VariantStatusFailed, false},
		{VariantStatusPublished, VariantStatusPublishing, false},
		{VariantStatusDraft, VariantStatusPublished, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestEnumsValid(t *testing.T) {
	if !VariantStatusPublishing.Valid() || VariantStatus("queued").Valid() {
		t.Error("VariantStatus.Valid mismatch")
	}
	if !PostStatusPartialPublished.Valid() || PostStatus("archived").Valid() {
		t.Error("PostStatus.Valid mismatch")
	}
	if !SourceTypeManual.Valid() || SourceType("scraped").Valid() {
		t.Error("SourceType.Valid mismatch")
	}
}

func TestVariant_IdempotencyKey(t *testing.T) {
	modified := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.UTC)
	v := &Variant{ID: "v-1", ModifiedAt: modified}

	first := v.IdempotencyKey()
	if first != v.IdempotencyKey() {
		t.Fatal("Expected key to be stable across calls")
	}
	if first != "variant-v-1-2024-03-01T10:00:00.123456789Z" {
		t.Errorf("Unexpected key %q", first)
	}

	// Status changes do not move the key
	v.Status = VariantStatusPublishing
	if v.IdempotencyKey() != first {
		t.Error("Expected key unchanged by status")
	}

	v.ModifiedAt = modified.Add(time.Second)
	if v.IdempotencyKey() == first {
		t.Error("Expected key to change with modification time")
	}
}

func TestSameLanguage(t *testing.T) {
	if !SameLanguage("EN", " en") {
		t.Error("Expected case-insensitive match")
	}
	if SameLanguage("en", "ru") {
		t.Error("Expected mismatch")
	}
}

func TestCreatePostRequest_AutoTranslateDefault(t *testing.T) {
	req := &CreatePostRequest{}
	if !req.AutoTranslateOrDefault() {
		t.Error("Expected auto-translate to default to true")
	}
	off := false
	req.AutoTranslate = &off
	if req.AutoTranslateOrDefault() {
		t.Error("Expected explicit false to be honored")
	}
}
