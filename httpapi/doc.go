// Package httpapi mounts the goRotate engine on gin routes.
//
//	POST /auth/login       {email, password} -> {accessToken} + refresh cookie
//	POST /auth/refresh     refresh cookie    -> {accessToken} + rotated cookie
//	POST /auth/logout      refresh cookie    -> {success:true}, cookie cleared
//	POST /auth/logout-all  bearer token      -> {success:true, revoked:n}
//	GET  /auth/me          bearer token      -> {userId, role, sessionId}
//	GET  /metrics          Prometheus exposition, when a handler is configured
//
// The refresh token only ever travels in an HttpOnly, Secure, SameSite=Strict cookie
// scoped to /auth. Every engine error is answered with 401 {"error":"unauthorized"};
// the detail goes to the audit trail. Logout always reports success.
package httpapi
