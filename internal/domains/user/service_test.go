package user

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIssueAndValidateRoundtrip(t *testing.T) {
	svc := NewService("test-secret", nil)

	token, err := svc.IssueToken(context.Background(), "uid-1", "dev-a", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UID != "uid-1" || claims.DeviceID != "dev-a" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	good := NewService("secret-a", nil)
	bad := NewService("secret-b", nil)

	token, _ := good.IssueToken(context.Background(), "uid-1", "", time.Hour)
	if _, err := bad.ValidateToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := NewService("secret", nil)
	token, _ := svc.IssueToken(context.Background(), "uid-1", "", -time.Minute)
	if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestValidateRejectsGarbageAndMissingUID(t *testing.T) {
	svc := NewService("secret", nil)
	if _, err := svc.ValidateToken(context.Background(), "not.a.token"); err == nil {
		t.Error("garbage token accepted")
	}
	empty, _ := svc.IssueToken(context.Background(), "", "", time.Hour)
	if _, err := svc.ValidateToken(context.Background(), empty); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty uid: err = %v", err)
	}
}
