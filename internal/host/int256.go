package host

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/davidbz/hostmeter/internal/domain"
)

// ErrArith is returned for undefined 256-bit arithmetic.
var ErrArith = errors.New("256-bit arithmetic error")

// Int256Op names a 256-bit operation.
type Int256Op uint8

const (
	OpAdd Int256Op = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpPow
	OpShl
	OpShr
)

func (op Int256Op) costType() domain.CostType {
	switch op {
	case OpAdd, OpSub:
		return domain.Int256AddSub
	case OpMul:
		return domain.Int256Mul
	case OpDiv, OpRem:
		return domain.Int256Div
	case OpPow:
		return domain.Int256Pow
	default:
		return domain.Int256Shift
	}
}

// Int256 applies op to a and b with checked overflow.
func (h *Host) Int256(op Int256Op, a, b *uint256.Int) (*uint256.Int, error) {
	if err := h.charger.Charge(op.costType(), domain.NoInput()); err != nil {
		return nil, err
	}

	z := new(uint256.Int)
	switch op {
	case OpAdd:
		if _, overflow := z.AddOverflow(a, b); overflow {
			return nil, fmt.Errorf("%w: add overflow", ErrArith)
		}
	case OpSub:
		if _, underflow := z.SubOverflow(a, b); underflow {
			return nil, fmt.Errorf("%w: sub underflow", ErrArith)
		}
	case OpMul:
		if _, overflow := z.MulOverflow(a, b); overflow {
			return nil, fmt.Errorf("%w: mul overflow", ErrArith)
		}
	case OpDiv:
		if b.IsZero() {
			return nil, fmt.Errorf("%w: division by zero", ErrArith)
		}
		z.Div(a, b)
	case OpRem:
		if b.IsZero() {
			return nil, fmt.Errorf("%w: division by zero", ErrArith)
		}
		z.Mod(a, b)
	case OpPow:
		z.Exp(a, b)
	case OpShl, OpShr:
		if !b.IsUint64() || b.Uint64() >= 256 {
			return nil, fmt.Errorf("%w: shift by %s", ErrArith, b.Dec())
		}
		if op == OpShl {
			z.Lsh(a, uint(b.Uint64()))
		} else {
			z.Rsh(a, uint(b.Uint64()))
		}
	default:
		return nil, fmt.Errorf("%w: unknown op %d", ErrArith, op)
	}
	return z, nil
}
