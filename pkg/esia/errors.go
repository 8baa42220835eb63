package esia

// The strategy distinguishes two failure surfaces: a SigningError or
// CallbackError ends the attempt through Outcome.Fail (the end user may
// simply start over), while ExchangeError, VerificationError and
// AggregationError are infrastructure faults reported through
// Outcome.Error. Nothing is retried: authorization codes and anti-forgery
// state are single-use, so a new attempt has to restart from the login leg.

// SigningError reports a failure to load key material or to produce the
// PKCS7 client secret.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return "esia: signing client secret: " + e.Err.Error()
}

func (e *SigningError) Unwrap() error { return e.Err }

// CallbackError reports a malformed or forged provider callback: a missing
// authorization code or state, or an echoed state that does not match the
// stored one.
type CallbackError struct {
	Reason string
}

func (e *CallbackError) Error() string {
	return "esia: callback rejected: " + e.Reason
}

// ExchangeError reports a failed authorization-code exchange: the token
// endpoint was unreachable, returned a body that is not JSON, or returned
// no access token.
type ExchangeError struct {
	Reason string
	Err    error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return "esia: token exchange: " + e.Reason + ": " + e.Err.Error()
	}
	return "esia: token exchange: " + e.Reason
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// VerificationError reports an access token whose signature, validity
// window or structure did not check out against the trusted portal key.
type VerificationError struct {
	Err error
}

func (e *VerificationError) Error() string {
	return "esia: access token verification: " + e.Err.Error()
}

func (e *VerificationError) Unwrap() error { return e.Err }

// AggregationError reports a failed attribute fetch. Any single upstream
// failure aborts the whole profile build; a partial profile is never
// returned.
type AggregationError struct {
	Err error
}

func (e *AggregationError) Error() string {
	return "esia: fetching profile attributes: " + e.Err.Error()
}

func (e *AggregationError) Unwrap() error { return e.Err }
