package syncproto

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"phicore/internal/crdt"
)

// Log is the server-side operation log Pull/Push operate over. Real
// deployments back this with a durable store; tests use an in-memory one.
type Log interface {
	// OperationsSince returns operations the caller hasn't seen, given its
	// last known vector clock, plus the server's current vector clock.
	OperationsSince(ctx context.Context, vc crdt.VectorClock) ([]crdt.Operation, crdt.VectorClock, error)
	// Accept merges op into the log, reporting whether it was a genuine
	// conflict with an existing operation (already resolved by CRDT
	// semantics; reported for observability only) and a rejection reason
	// when the operation cannot be accepted at all.
	Accept(ctx context.Context, op crdt.Operation) (accepted bool, conflict bool, rejectReason string, err error)
}

// Authenticator validates a bearer token and returns the authenticated
// user id.
type Authenticator func(token string) (userID string, err error)

// Server exposes Pull/Push over HTTP via go-chi, enforcing bearer auth and
// per-user rate limiting.
type Server struct {
	log     Log
	auth    Authenticator
	limiter *Limiter
}

// NewServer builds a Server. limiter may be nil to disable rate limiting.
func NewServer(log Log, auth Authenticator, limiter *Limiter) *Server {
	return &Server{log: log, auth: auth, limiter: limiter}
}

// Router returns the chi router exposing POST /sync/pull and /sync/push.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/sync/pull", s.handlePull)
	r.Post("/sync/push", s.handlePush)
	return r
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return "", false
	}
	userID, err := s.auth(token)
	if err != nil {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return "", false
	}
	if s.limiter != nil {
		if rerr := s.limiter.Allow(userID); rerr != nil {
			w.Header().Set("Retry-After", retryAfterHeader(rerr))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return "", false
		}
	}
	return userID, true
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	var req PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed pull request", http.StatusBadRequest)
		return
	}
	vc, err := parseVectorClock(req.VectorClock)
	if err != nil {
		http.Error(w, "malformed vector clock", http.StatusBadRequest)
		return
	}

	ops, serverVC, err := s.log.OperationsSince(r.Context(), vc)
	if err != nil {
		http.Error(w, "pull failed", http.StatusInternalServerError)
		return
	}
	wire := make([]OperationWire, 0, len(ops))
	for _, op := range ops {
		wire = append(wire, ToWire(op))
	}
	writeJSON(w, PullResponse{Operations: wire, ServerVectorClock: vectorClockString(serverVC)})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed push request", http.StatusBadRequest)
		return
	}

	resp := PushResponse{Rejected: make(map[string]string)}
	for _, opWire := range req.Operations {
		op, err := FromWire(opWire)
		if err != nil {
			resp.Rejected[opWire.ID] = err.Error()
			continue
		}
		accepted, conflict, reason, err := s.log.Accept(r.Context(), op)
		switch {
		case err != nil:
			resp.Rejected[op.ID] = err.Error()
		case !accepted:
			resp.Rejected[op.ID] = reason
		default:
			resp.Accepted = append(resp.Accepted, op.ID)
			if conflict {
				resp.Conflicts = append(resp.Conflicts, op.ID)
			}
		}
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func retryAfterHeader(err error) string {
	var rle *RateLimitExceeded
	if errors.As(err, &rle) {
		return rle.RetryAfter.String()
	}
	return "1s"
}
