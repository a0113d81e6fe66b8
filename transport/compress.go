package transport

import (
	"bytes"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
)

// encode marshals v and gzips it when it reaches the compression threshold.
func (h *HTTP) encode(v any) ([]byte, bool, error) {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	if h.compress <= 0 || len(raw) < h.compress {
		return raw, false, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, false, err
	}
	if err := zw.Close(); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}
