package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskpilot/internal/domain"
)

func TestMemoryVerificationTokenRepository_IssueAndFind(t *testing.T) {
	repo := NewMemoryVerificationTokenRepository()
	ctx := context.Background()

	tok, err := repo.Issue(ctx, "u1", domain.PurposeEmailVerification, "tok-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.ID == "" || tok.UserID != "u1" || tok.Purpose != domain.PurposeEmailVerification {
		t.Fatalf("unexpected token: %+v", tok)
	}

	found, err := repo.FindByUser(ctx, "u1")
	if err != nil || found.ID != tok.ID {
		t.Fatalf("expected live token, got %+v err=%v", found, err)
	}
	if _, err := repo.FindByUserAndToken(ctx, "u1", "tok-1"); err != nil {
		t.Fatalf("find by user and token: %v", err)
	}
	if _, err := repo.FindByUserAndToken(ctx, "u1", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for wrong token value, got %v", err)
	}
}

func TestMemoryVerificationTokenRepository_AlreadyPending(t *testing.T) {
	repo := NewMemoryVerificationTokenRepository()
	ctx := context.Background()

	if _, err := repo.Issue(ctx, "u1", domain.PurposePasswordReset, "tok-1", time.Hour); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := repo.Issue(ctx, "u1", domain.PurposePasswordReset, "tok-2", time.Hour); !errors.Is(err, ErrTokenAlreadyPending) {
		t.Fatalf("expected ErrTokenAlreadyPending, got %v", err)
	}
	if _, err := repo.Issue(ctx, "u2", domain.PurposePasswordReset, "tok-3", time.Hour); err != nil {
		t.Fatalf("other user should not be blocked: %v", err)
	}
}

func TestMemoryVerificationTokenRepository_ExpiryAndDelete(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewMemoryVerificationTokenRepositoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	tok, err := repo.Issue(ctx, "u1", domain.PurposeEmailVerification, "tok-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := repo.Delete(ctx, tok.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.FindByUser(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted token to be gone, got %v", err)
	}

	if _, err := repo.Issue(ctx, "u1", domain.PurposeEmailVerification, "tok-2", time.Hour); err != nil {
		t.Fatalf("reissue after delete: %v", err)
	}
	now = now.Add(time.Hour)
	if _, err := repo.FindByUser(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired token to be hidden, got %v", err)
	}
	if _, err := repo.Issue(ctx, "u1", domain.PurposeEmailVerification, "tok-3", time.Hour); err != nil {
		t.Fatalf("issue after expiry: %v", err)
	}
}

func TestMemoryVerificationTokenRepository_Consume(t *testing.T) {
	repo := NewMemoryVerificationTokenRepository()
	ctx := context.Background()

	tok, err := repo.Issue(ctx, "u1", domain.PurposePasswordReset, "tok-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := repo.Consume(ctx, "u1", domain.PurposeEmailVerification, "tok-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrong purpose rejected, got %v", err)
	}
	if _, err := repo.Consume(ctx, "u1", domain.PurposePasswordReset, "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrong value rejected, got %v", err)
	}

	consumed, err := repo.Consume(ctx, "u1", domain.PurposePasswordReset, "tok-1")
	if err != nil || consumed.ID != tok.ID {
		t.Fatalf("expected token consumed, got %+v err=%v", consumed, err)
	}
	if _, err := repo.Consume(ctx, "u1", domain.PurposePasswordReset, "tok-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second consume to fail, got %v", err)
	}
	if _, err := repo.FindByUser(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected slot released, got %v", err)
	}
}
