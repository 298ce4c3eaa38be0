package ratelimit

// UnknownIdentifier is the sentinel used when no client identifier is
// available (e.g. no resolvable IP). Such requests share one bucket rather
// than failing the request.
const UnknownIdentifier = "unknown"

// LimitKey derives the deterministic limiting key for a request under the
// given scope. Identical (scope, identifier, endpoint) inputs always yield
// the same key. Scopes whose data is missing fall back to IP-based keying.
func LimitKey(scope Scope, req Request) string {
	id := req.Identifier
	if id == "" {
		id = UnknownIdentifier
	}

	switch scope {
	case ScopeGlobal:
		return "global"
	case ScopeAPIKey:
		if req.APIKey != "" {
			return "api_key:" + req.APIKey
		}
	case ScopeUser:
		if req.UserID != "" {
			return "user:" + req.UserID
		}
	case ScopeEndpoint:
		if req.Endpoint != "" {
			return "endpoint:" + id + ":" + req.Endpoint
		}
	case ScopeIP:
	}

	return "ip:" + id
}
