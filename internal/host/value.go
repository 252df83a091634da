package host

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/davidbz/hostmeter/internal/domain"
)

// meteredWriter bills ValSer by the byte as the encoder produces output.
// The constant term is billed once when serialization starts.
type meteredWriter struct {
	charger domain.Charger
	buf     bytes.Buffer
}

func (w *meteredWriter) Write(p []byte) (int, error) {
	if err := w.charger.BulkCharge(domain.ValSer, 0, domain.InputOf(uint64(len(p)))); err != nil {
		return 0, err
	}
	return w.buf.Write(p)
}

// ValSer serializes a host value. The total charge equals one ValSer charge
// over the encoded length.
func (h *Host) ValSer(v any) ([]byte, error) {
	if err := h.charger.BulkCharge(domain.ValSer, 1, domain.InputOf(0)); err != nil {
		return nil, err
	}

	w := &meteredWriter{charger: h.charger}
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("serialize value: %w", err)
	}
	return w.buf.Bytes(), nil
}

// ValDeser decodes a host value from data.
func (h *Host) ValDeser(data []byte) (any, error) {
	if err := h.charger.Charge(domain.ValDeser, domain.InputOf(uint64(len(data)))); err != nil {
		return nil, err
	}

	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("deserialize value: %w", err)
	}
	return v, nil
}
