package recorder

import "context"

// Authorizer grants microphone access for a session. Implementations return
// ErrPermissionDenied or ErrRestricted when access is unavailable.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context) error

func (f AuthorizerFunc) Authorize(ctx context.Context) error {
	return f(ctx)
}

// AllowAll grants access unconditionally. It still honors ctx cancellation.
var AllowAll Authorizer = AuthorizerFunc(func(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return withKind(ErrPermissionDenied, err)
	}
	return nil
})
