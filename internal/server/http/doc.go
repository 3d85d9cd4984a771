// Package httpserver exposes the queueing core over REST. Tenancy comes from
// the X-Project-ID header, producer identity from the Client-ID header (a
// UUID, used for echo suppression). The handlers validate, delegate to the
// storage backend, and translate the error taxonomy onto status codes:
// missing resources map to 404, claim-guard rejections to 403, validation
// failures to 400, and exhausted post retries to 503 with the committed ids.
package httpserver
