package wallet

import (
	"errors"
	"fmt"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/types"
)

// Response is what every boundary operation returns. On failure Error holds
// a human-readable message and Kind its stable category; Data is the zero
// value.
type Response[T any] struct {
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
	Kind    types.Kind `json:"kind,omitempty"`
	Data    T          `json:"data"`
}

// Err reconstructs an error from a failed response, or nil on success.
func (r Response[T]) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Kind, r.Error)
}

func ok[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func fail[T any](err error) Response[T] {
	return Response[T]{Error: err.Error(), Kind: classify(err)}
}

// classify maps lower-layer errors that are not types sentinels.
func classify(err error) types.Kind {
	if errors.Is(err, crypto.ErrInvalidAddress) {
		return types.KindMalformedInput
	}
	return types.KindOf(err)
}

// run executes fn and converts its result, including a panic, into a
// Response.
func run[T any](s *Service, op string, fn func() (T, error)) (resp Response[T]) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("boundary operation panicked", "op", op, "panic", r)
			resp = fail[T](fmt.Errorf("%w: %s failed unexpectedly", types.ErrInternal, op))
		}
	}()

	data, err := fn()
	if err != nil {
		if classify(err) == types.KindInternalError {
			s.logger.Error("boundary operation failed", "op", op, "err", err)
		}
		return fail[T](err)
	}
	return ok(data)
}
