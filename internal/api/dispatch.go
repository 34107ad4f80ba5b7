package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/nerrad567/machine-allocator/internal/machine"
)

// Operation names used for logging and metrics.
const (
	OpRequestAllocation = "request_allocation"
	OpGetMachine        = "get_machine"
	OpStartMachine      = "start_machine"
	OpUnrouted          = "unrouted"
)

const pathRequestMachine = "/machine/request"

var (
	getMachinePattern   = regexp.MustCompile(`^/machine/([a-zA-Z0-9-]+)$`)
	startMachinePattern = regexp.MustCompile(`^/machine/([a-zA-Z0-9-]+)/start$`)
)

// Engine is the set of allocation operations the router dispatches to.
// *machine.Engine satisfies it.
type Engine interface {
	RequestAllocation(ctx context.Context, locationID, jobID string) (machine.Result, error)
	GetMachine(ctx context.Context, id string) (machine.Result, error)
	StartMachine(ctx context.Context, id string) (machine.Result, error)
}

// IdentityChecker validates caller tokens. *auth.JWTChecker satisfies it.
type IdentityChecker interface {
	Validate(ctx context.Context, token string) bool
}

// ResultObserver is told about every dispatched request.
// *telemetry.Metrics satisfies it.
type ResultObserver interface {
	ObserveResult(operation string, code machine.StatusCode, elapsed time.Duration)
	ObserveUnauthorized()
}

type noopObserver struct{}

func (noopObserver) ObserveResult(string, machine.StatusCode, time.Duration) {}
func (noopObserver) ObserveUnauthorized()                                   {}

// Request is a transport-independent inbound call.
type Request struct {
	Method string
	Path   string
	Token  string

	// Body is the raw JSON body. Only POST /machine/request reads it.
	Body []byte
}

// AllocationRequest is the body of POST /machine/request.
type AllocationRequest struct {
	LocationID string `json:"locationId"`
	JobID      JobID  `json:"jobId"`
}

// JobID is a job identifier sent either as a JSON string or as an integer.
// Integers are kept in their decimal form, so 7 and "7" name the same job.
type JobID string

// UnmarshalJSON implements json.Unmarshaler.
func (j *JobID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*j = JobID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("jobId must be a string or an integer: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("jobId must be a string or an integer, got %s", n)
	}
	*j = JobID(n.String())
	return nil
}

// AuthorizationError is returned by Dispatch when the token is rejected.
// It is a distinct shape from machine.Result.
type AuthorizationError struct {
	StatusCode machine.StatusCode `json:"statusCode"`
	Message    string             `json:"message"`
}

func (e *AuthorizationError) Error() string {
	return string(e.StatusCode) + ": " + e.Message
}

// Router authorizes requests and maps them onto engine operations.
type Router struct {
	engine   Engine
	identity IdentityChecker
	observer ResultObserver
	logger   Logger
}

// Logger defines the logging interface used by the router.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// NewRouter creates a router. observer may be nil.
func NewRouter(engine Engine, identity IdentityChecker, observer ResultObserver) *Router {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Router{engine: engine, identity: identity, observer: observer, logger: noopLogger{}}
}

// SetLogger sets the logger for the router.
func (rt *Router) SetLogger(logger Logger) {
	rt.logger = logger
}

// Authorize validates a token outside Dispatch, recording a rejection
// the same way.
func (rt *Router) Authorize(ctx context.Context, token string) bool {
	if rt.identity.Validate(ctx, token) {
		return true
	}
	rt.observer.ObserveUnauthorized()
	return false
}

// Dispatch validates the token and runs the matching operation.
//
// The error is non-nil only for a rejected token, in which case it is an
// *AuthorizationError and nothing else was touched. Every other outcome,
// including an unmatched route or an engine failure, is a Result.
func (rt *Router) Dispatch(ctx context.Context, req Request) (machine.Result, error) {
	if !rt.Authorize(ctx, req.Token) {
		return machine.Result{}, &AuthorizationError{
			StatusCode: machine.CodeUnauthorized,
			Message:    "Invalid token",
		}
	}

	start := time.Now()
	op, res := rt.route(ctx, req)
	rt.observer.ObserveResult(op, res.StatusCode, time.Since(start))
	rt.logger.Debug("request dispatched", "operation", op, "method", req.Method, "path", req.Path, "status_code", res.StatusCode)
	return res, nil
}

func (rt *Router) route(ctx context.Context, req Request) (string, machine.Result) {
	if req.Method == http.MethodPost && req.Path == pathRequestMachine {
		var body AllocationRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			rt.logger.Debug("malformed allocation request", "error", err)
			return OpRequestAllocation, machine.Result{StatusCode: machine.CodeBadRequest}
		}
		return OpRequestAllocation, rt.run(OpRequestAllocation, func() (machine.Result, error) {
			return rt.engine.RequestAllocation(ctx, body.LocationID, string(body.JobID))
		})
	}

	if m := getMachinePattern.FindStringSubmatch(req.Path); m != nil && req.Method == http.MethodGet {
		return OpGetMachine, rt.run(OpGetMachine, func() (machine.Result, error) {
			return rt.engine.GetMachine(ctx, m[1])
		})
	}

	if m := startMachinePattern.FindStringSubmatch(req.Path); m != nil && req.Method == http.MethodPost {
		return OpStartMachine, rt.run(OpStartMachine, func() (machine.Result, error) {
			return rt.engine.StartMachine(ctx, m[1])
		})
	}

	return OpUnrouted, machine.InternalError()
}

// run turns an engine failure into INTERNAL_SERVER_ERROR.
func (rt *Router) run(op string, fn func() (machine.Result, error)) machine.Result {
	res, err := fn()
	if err != nil {
		rt.logger.Error("engine operation failed", "operation", op, "error", err)
		return machine.InternalError()
	}
	return res
}
