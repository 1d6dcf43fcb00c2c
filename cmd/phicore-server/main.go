// Command phicore-server is a thin external-collaborator demo that wires
// the tuple store, authorization engine, RLS context bridge, field-masking
// pipeline, and sync protocol server into one process. It is a wiring
// demonstration, not a production deployment: the tuple store backing it
// is in-memory and seeded with a handful of demo records.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"phicore/internal/auditlog"
	"phicore/internal/authz"
	"phicore/internal/config"
	"phicore/internal/crdt"
	"phicore/internal/masking"
	"phicore/internal/rls"
	"phicore/internal/syncproto"
	"phicore/internal/tuplestore"
)

var log = logrus.New()

func main() {
	cfg, err := config.Load(os.Getenv("PHICORE_ENV"))
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}

	schema := demoSchema()
	store := tuplestore.NewMemoryStore(schema)
	seedDemoTuples(store)

	engine := authz.NewEngine(store, schema)
	audit := auditlog.NewLogrusSink(log)
	bridge := rls.NewBridge(engine, store, audit)
	pipeline := masking.NewPipeline(engine, masking.DefaultRegistry(), audit)

	server := &demoServer{cfg: cfg, store: store, engine: engine, bridge: bridge, pipeline: pipeline}

	r := chi.NewRouter()
	r.Get("/patients/{id}", server.handleGetPatient)
	r.Mount("/sync", syncproto.NewServer(noopSyncLog{}, demoAuthenticator, syncproto.NewLimiter(
		cfg.Sync.RateLimitCapacity, cfg.Sync.RateLimitRefillPerSec)).Router())

	log.Infof("phicore-server listening on %s", cfg.Server.ListenAddr)
	if err := http.ListenAndServe(cfg.Server.ListenAddr, r); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

type demoServer struct {
	cfg      *config.Config
	store    *tuplestore.MemoryStore
	engine   *authz.Engine
	bridge   *rls.Bridge
	pipeline *masking.Pipeline
}

// patientRecord is the demo domain object masked before being returned.
type patientRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SSN       string `json:"ssn"`
	Diagnosis string `json:"diagnosis"`
}

var demoPatients = map[string]patientRecord{
	"p1": {ID: "p1", Name: "Jamie Rivera", SSN: "123-45-6789", Diagnosis: "type 2 diabetes"},
}

func (s *demoServer) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	patient, ok := demoPatients[id]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	userID := r.Header.Get("X-Demo-User")
	if userID == "" {
		http.Error(w, "missing X-Demo-User header", http.StatusUnauthorized)
		return
	}

	rlsCtx, err := s.bridge.GenerateContext(r.Context(), "default", userID, "org1", "patient_record", false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	granted := masking.Internal
	if rlsCtx.Role == "clinician" {
		granted = masking.Confidential
	}

	asMap, err := masking.ToMaskable(patient)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	masked, err := s.pipeline.Mask(r.Context(), masking.Request{
		Tenant:  "default",
		Subject: tuplestore.Subject{Object: tuplestore.Object{Type: "user", ID: userID}},
		Object:  tuplestore.Object{Type: "patient_record", ID: id},
		Granted: granted,
		UserID:  userID,
		Path:    r.URL.Path,
		Method:  r.Method,
	}, asMap)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(masked)
}

func demoSchema() *tuplestore.Schema {
	schema := tuplestore.NewSchema()
	schema.PutType(tuplestore.ObjectTypeSchema{
		Type: "role",
		Relations: map[string]tuplestore.Rewrite{
			"member":      {Kind: tuplestore.This},
			"can_elevate": {Kind: tuplestore.This},
		},
	})
	schema.PutType(tuplestore.ObjectTypeSchema{
		Type: "patient_record",
		Relations: map[string]tuplestore.Rewrite{
			"viewer": {Kind: tuplestore.This},
			"editor": {Kind: tuplestore.This},
			"owner":  {Kind: tuplestore.This},
		},
	})
	return schema
}

func seedDemoTuples(store *tuplestore.MemoryStore) {
	now := time.Now().UTC()
	tuples := []tuplestore.Tuple{
		{
			Tenant:  "default",
			Subject: tuplestore.Subject{Object: tuplestore.Object{Type: "user", ID: "alice"}},
			Relation: "member",
			Object:   tuplestore.Object{Type: "role", ID: "clinician"},
			CreatedAt: now,
		},
		{
			Tenant:  "default",
			Subject: tuplestore.Subject{Object: tuplestore.Object{Type: "user", ID: "alice"}},
			Relation: "viewer",
			Object:   tuplestore.Object{Type: "patient_record", ID: "p1"},
			CreatedAt: now,
		},
	}
	for _, t := range tuples {
		if err := store.WriteTuple(context.Background(), t); err != nil {
			log.WithError(err).Warn("seed tuple failed")
		}
	}
}

func demoAuthenticator(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

// noopSyncLog is a stub Log backing the demo's mounted sync endpoint: it
// accepts every operation without persisting it, since the point of this
// binary is to show the pipeline wired together, not to run a durable
// sync peer.
type noopSyncLog struct{}

func (noopSyncLog) OperationsSince(_ context.Context, _ crdt.VectorClock) ([]crdt.Operation, crdt.VectorClock, error) {
	return nil, crdt.VectorClock{}, nil
}

func (noopSyncLog) Accept(_ context.Context, op crdt.Operation) (bool, bool, string, error) {
	return true, false, "", nil
}
