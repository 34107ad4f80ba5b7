// Package api exposes the allocation engine over HTTP.
//
// Three routes reach the engine:
//
//	POST /machine/request        {"locationId": "...", "jobId": "..."}
//	GET  /machine/{machineId}
//	POST /machine/{machineId}/start
//
// Every call carries a bearer token. Router.Dispatch validates it before
// anything else runs; a rejected token yields an AuthorizationError
// ({"statusCode":"UNAUTHORIZED","message":"Invalid token"}) with no store or
// cache access. Every other call yields a machine.Result, including
// INTERNAL_SERVER_ERROR for method/path combinations that match no route.
//
// Router is transport-independent. Server wraps it with chi, adding request
// IDs, request logging, panic recovery, CORS, per-IP rate limiting,
// GET /health and GET /metrics.
//
// Hub streams committed transitions to WebSocket clients at GET /ws. It is
// an engine observer; clients subscribe to ChannelTransitions or to a
// LocationChannel.
//
// # Usage
//
//	router := api.NewRouter(engine, auth.NewJWTChecker(secret), metrics)
//	server, err := api.New(api.Deps{Config: cfg.API, Logger: log, Router: router})
//	server.Start(ctx)
//	defer server.Close()
package api
