// Package api serves the HTTP intake surface of autorename.
//
// Files are uploaded per user and handed to the dispatcher, which either
// buffers them into an open sequence or runs them through the rename
// pipeline in the background. The remaining routes manage sequences,
// preferences, and read the credit ledger.
//
// # Routes
//
//	POST  /v1/users/{userID}/files           multipart "file", optional "kind"
//	POST  /v1/users/{userID}/sequence/start
//	POST  /v1/users/{userID}/sequence/end
//	GET   /v1/users/{userID}/preferences
//	PATCH /v1/users/{userID}/preferences
//	GET   /v1/users/{userID}/account
//	GET   /healthz
//	GET   /metrics
//
// Request bodies and responses are JSON with camelCase keys. Errors are
// {"error": "..."}. Every /v1 route sits behind a per-IP rate limit and,
// when a token is configured, bearer authentication.
package api
