package common

// AuthorizationHeader is the HTTP header carrying the bearer token on
// outbound requests.
const AuthorizationHeader = "Authorization"

// IdempotencyKeyHeader carries the client-minted key that lets the server
// deduplicate a mutation replayed more than once.
const IdempotencyKeyHeader = "Idempotency-Key"

// APIBasePath is the root of the administrative resource tree on the server.
const APIBasePath = "/api/admin"

// HealthPath is probed by the connectivity monitor.
const HealthPath = "/api/health"
