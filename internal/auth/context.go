package auth

// Context keys under which the JWT middleware stores the authenticated
// user's claims in the gin context. They live here so the middleware can
// depend on this package without a cycle back from the handlers.
const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
)
