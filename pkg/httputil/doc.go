// Package httputil holds the JSON envelope and middleware shared by the
// CareBridge HTTP surfaces.
//
// Failures are answered with {success:false, message}. Authorization
// failures also carry required_permissions or required_roles so a client can
// tell which grant it lacks:
//
//	httputil.WriteAppError(w, apperrors.Authorization("Insufficient permissions", "audit:read"))
//
// Anything not classified by pkg/apperrors becomes a generic 500; driver and
// provider messages never reach the client. Expected business outcomes on the
// webhook endpoint, such as a duplicate delivery, are a 200 with a warning:
//
//	httputil.WriteWarning(w, "webhook event already processed")
//
// Request bodies are decoded with ParseJSONOrError, which writes the 400
// itself:
//
//	var req selectRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//
// Chain composes middleware with the first argument outermost.
package httputil
