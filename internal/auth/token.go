package auth

import (
	"context"
	"errors"
)

var ErrNoToken = errors.New("no api token configured")

// Static is a fixed bearer token. Refresh is handled outside this process.
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return string(s), nil
}

// Required wraps a token source that must yield a non-empty token.
type Required struct {
	Source interface {
		Token(ctx context.Context) (string, error)
	}
}

func (r Required) Token(ctx context.Context) (string, error) {
	tok, err := r.Source.Token(ctx)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}
