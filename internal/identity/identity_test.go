package identity_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gavelhouse/settlement/internal/config"
	"github.com/gavelhouse/settlement/internal/identity"
)

func TestStaticResolver(t *testing.T) {
	r := identity.NewStaticResolver(map[string]config.StaticToken{
		"tok-user":  {UserID: "u1"},
		"tok-admin": {UserID: "admin1", Admin: true},
	})
	ctx := context.Background()

	p, err := r.Resolve(ctx, "tok-user")
	if err != nil {
		t.Fatal(err)
	}
	if p.UserID != "u1" || p.Admin {
		t.Errorf("principal = %+v, want u1 non-admin", p)
	}

	p, err = r.Resolve(ctx, "tok-admin")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Admin {
		t.Errorf("principal = %+v, want admin", p)
	}

	if _, err := r.Resolve(ctx, "unknown"); !errors.Is(err, identity.ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestHTTPResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"user_id":"u1","admin":true}`))
		case "Bearer empty":
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	r := identity.NewHTTPResolver(srv.URL, time.Second)
	ctx := context.Background()

	p, err := r.Resolve(ctx, "good")
	if err != nil {
		t.Fatal(err)
	}
	if p.UserID != "u1" || !p.Admin {
		t.Errorf("principal = %+v, want u1 admin", p)
	}

	if _, err := r.Resolve(ctx, "bad"); !errors.Is(err, identity.ErrInvalidToken) {
		t.Errorf("rejected token error = %v, want ErrInvalidToken", err)
	}
	// A 200 with no user id is still not a valid principal.
	if _, err := r.Resolve(ctx, "empty"); !errors.Is(err, identity.ErrInvalidToken) {
		t.Errorf("empty principal error = %v, want ErrInvalidToken", err)
	}
}

func TestFromConfig(t *testing.T) {
	if _, ok := identity.FromConfig(config.IdentityConfig{Endpoint: "http://idp"}).(*identity.HTTPResolver); !ok {
		t.Error("endpoint config did not select the HTTP resolver")
	}
	if _, ok := identity.FromConfig(config.IdentityConfig{}).(*identity.StaticResolver); !ok {
		t.Error("static config did not select the static resolver")
	}
}
