//go:build !integration

package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthManager(t *testing.T) {
	t.Run("cookie round trip", func(t *testing.T) {
		a := NewAuthManager("secret-one", true, time.Minute)
		rr := httptest.NewRecorder()
		if _, _, err := a.Mint(rr); err != nil {
			t.Fatalf("mint: %v", err)
		}
		cookies := rr.Result().Cookies()
		if len(cookies) != 1 || !cookies[0].HttpOnly || !cookies[0].Secure {
			t.Fatalf("unexpected cookies: %+v", cookies)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(cookies[0])
		claims, err := a.ParseFromRequest(req)
		if err != nil || claims.Subject != adminSubject {
			t.Errorf("expected valid claims, got %+v, %v", claims, err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		a := NewAuthManager("secret-one", false, time.Minute)
		token, _, _ := a.Mint(httptest.NewRecorder())
		a.now = func() time.Time { return time.Now().Add(time.Hour) }

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		if _, err := a.ParseFromRequest(req); err == nil {
			t.Error("expected expired token to be rejected")
		}
	})

	t.Run("other secret", func(t *testing.T) {
		token, _, _ := NewAuthManager("secret-one", false, time.Minute).Mint(httptest.NewRecorder())
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer "+token)
		if _, err := NewAuthManager("secret-two", false, time.Minute).ParseFromRequest(req); err == nil {
			t.Error("expected signature mismatch")
		}
	})

	t.Run("non bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc")
		if _, err := NewAuthManager("s", false, 0).ParseFromRequest(req); err != errMissingToken {
			t.Errorf("expected errMissingToken, got %v", err)
		}
	})
}
