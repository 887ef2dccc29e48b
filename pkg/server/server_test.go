package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/juergengeck/esp32/pkg/actor"
	"github.com/juergengeck/esp32/pkg/certops"
	"github.com/juergengeck/esp32/pkg/chain"
	"github.com/juergengeck/esp32/pkg/config"
	"github.com/juergengeck/esp32/pkg/cryptocap"
	"github.com/juergengeck/esp32/pkg/graph"
	"github.com/juergengeck/esp32/pkg/helper/log"
	"github.com/juergengeck/esp32/pkg/persist"
	"github.com/juergengeck/esp32/pkg/rights"
	"github.com/juergengeck/esp32/pkg/rootset"
)

func testNode(t *testing.T) *actor.Actor {
	t.Helper()

	dir := t.TempDir()
	rootSetPath := filepath.Join(dir, "rootset.yaml")
	if err := os.WriteFile(rootSetPath, []byte("main_identity: []\nfleet: []\n"), 0o600); err != nil {
		t.Fatalf("writing root-set fixture: %v", err)
	}

	logger := log.NewBasicLogger(log.ErrorLevel)
	crypto := cryptocap.NewSoftwareProvider()
	store := graph.New(logger, crypto.Hash)
	rightsEngine := rights.New(store, crypto)
	evaluator := chain.New(store, crypto, rightsEngine)
	rightsEngine.SetTruster(evaluator)

	roots, err := rootset.NewStaticProvider(rootSetPath)
	if err != nil {
		t.Fatalf("loading root set: %v", err)
	}

	ops := certops.New(crypto, store, func() uint64 { return 0 })

	substrate, err := persist.OpenBoltSubstrate(filepath.Join(dir, "trust.db"))
	if err != nil {
		t.Fatalf("opening persistence substrate: %v", err)
	}
	persisted := persist.New(substrate, crypto, logger)

	node := actor.New(actor.Config{
		Store:       store,
		Evaluator:   evaluator,
		Rights:      rightsEngine,
		Certops:     ops,
		Persist:     persisted,
		Roots:       roots,
		Logger:      logger,
		MailboxSize: 8,
		AdmitPerSec: 100,
		AdmitBurst:  10,
	})
	node.Start()
	t.Cleanup(func() { _ = node.Stop(context.Background()) })

	return node
}

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.NewDefaultConfig()
	return New(cfg, log.NewBasicLogger(log.ErrorLevel), testNode(t), nil)
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("expected status healthy, got %q", body.Status)
	}
}

func TestHandleVerdictUntrustedKey(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/verdict/nonexistent-key", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body VerdictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Trusted {
		t.Errorf("expected an unseeded key to be untrusted")
	}
	if body.KeyID != "nonexistent-key" {
		t.Errorf("expected key_id echoed back, got %q", body.KeyID)
	}
}

func TestHandleRights(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/rights/some-person", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body RightsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.PersonID != "some-person" {
		t.Errorf("expected person_id echoed back, got %q", body.PersonID)
	}
	if body.MayEndorseForEverybody || body.MayEndorseForSelf {
		t.Errorf("expected no rights for an unseeded person")
	}
}

func TestHandleVerdictFleetQueryParam(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/verdict/some-key?fleet=true", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
