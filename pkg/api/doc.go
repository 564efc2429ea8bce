// Package api wires the CareBridge HTTP surface: the authenticated user
// endpoints, the admin API behind RBAC, the identity provider webhook, and
// the health and metrics endpoints.
//
//	srv := api.NewServer(api.Deps{...})
//	http.ListenAndServe(addr, srv.Handler())
//
// Handler wraps the router with request ids, panic recovery, request logging
// and OpenTelemetry spans.
package api
