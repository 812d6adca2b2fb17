package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kgbnotify/kgb/internal/client"
	"github.com/kgbnotify/kgb/internal/commit"
	"github.com/kgbnotify/kgb/internal/config"
	"github.com/kgbnotify/kgb/internal/logger"
	"github.com/kgbnotify/kgb/internal/wire"
)

func okServer(t *testing.T, hits *int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.OKResponse())
	}))
}

func failServer(t *testing.T, hits *int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

func testRef(uri string) config.ServerRef {
	return config.ServerRef{URI: uri, Proxy: uri, Password: "pw", Timeout: 2 * time.Second}
}

// TestDeliverSucceedsOnFirstWorkingServer verifies a commit is delivered
// successfully when at least one configured server accepts it.
func TestDeliverSucceedsOnFirstWorkingServer(t *testing.T) {
	hits := 0
	srv := okServer(t, &hits)
	defer srv.Close()

	d := client.New([]config.ServerRef{testRef(srv.URL)}, logger.New("error", "json"))
	c := commit.Commit{ID: "1", Author: "alice", Log: "hello"}
	if err := d.Deliver(context.Background(), "repo", wire.V2, c, ""); err != nil {
		t.Fatalf("expected delivery to succeed, got %v", err)
	}
	if hits != 1 {
		t.Errorf("expected exactly one request, got %d", hits)
	}
}

// TestDeliverFailsOverToNextServer verifies a failing server does not block
// delivery when another configured server works (§8 property 7).
func TestDeliverFailsOverToNextServer(t *testing.T) {
	failHits, okHits := 0, 0
	bad := failServer(t, &failHits)
	defer bad.Close()
	good := okServer(t, &okHits)
	defer good.Close()

	d := client.New([]config.ServerRef{testRef(bad.URL), testRef(good.URL)}, logger.New("error", "json"))
	c := commit.Commit{ID: "1", Author: "alice", Log: "hello"}
	if err := d.Deliver(context.Background(), "repo", wire.V2, c, ""); err != nil {
		t.Fatalf("expected failover delivery to succeed, got %v", err)
	}
	if okHits != 1 {
		t.Errorf("expected the working server to receive exactly one request, got %d", okHits)
	}
}

// TestDeliverReturnsErrorWhenAllServersFail verifies an error is surfaced
// only once every configured server has failed.
func TestDeliverReturnsErrorWhenAllServersFail(t *testing.T) {
	hits := 0
	bad := failServer(t, &hits)
	defer bad.Close()

	d := client.New([]config.ServerRef{testRef(bad.URL)}, logger.New("error", "json"))
	c := commit.Commit{ID: "1", Author: "alice", Log: "hello"}
	if err := d.Deliver(context.Background(), "repo", wire.V2, c, ""); err == nil {
		t.Fatal("expected an error when every server fails")
	}
}

// TestDeliverStickiesToLastGoodServer verifies that once a server has
// succeeded, subsequent deliveries try it first (§4.1 step 2, §8 property 7).
func TestDeliverStickiesToLastGoodServer(t *testing.T) {
	var firstHits, secondHits int
	first := okServer(t, &firstHits)
	defer first.Close()
	second := okServer(t, &secondHits)
	defer second.Close()

	d := client.New([]config.ServerRef{testRef(first.URL), testRef(second.URL)}, logger.New("error", "json"))
	c := commit.Commit{ID: "1", Author: "alice", Log: "hello"}

	for i := 0; i < 5; i++ {
		if err := d.Deliver(context.Background(), "repo", wire.V2, c, ""); err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}

	// The first delivery goes to whichever server the shuffle puts first;
	// every later delivery must stick to that server.
	if firstHits+secondHits != 5 {
		t.Fatalf("expected exactly 5 requests in total, got %d and %d", firstHits, secondHits)
	}
	if firstHits != 0 && secondHits != 0 {
		t.Errorf("expected sticky behaviour to keep all traffic on the first successful server, got %d and %d hits", firstHits, secondHits)
	}
}
