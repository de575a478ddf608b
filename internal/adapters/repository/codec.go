package repository

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
)

// encodeValues compresses an array payload using gob encoding and gzip compression.
func encodeValues(values []float64) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(values); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeValues reverses encodeValues.
func decodeValues(blob []byte) ([]float64, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty array blob", ErrCorrupt)
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip reader: %v", ErrCorrupt, err)
	}
	defer gz.Close()

	var values []float64
	if err := gob.NewDecoder(gz).Decode(&values); err != nil {
		return nil, fmt.Errorf("%w: decode values: %v", ErrCorrupt, err)
	}
	return values, nil
}

// formatDims renders dims as "32,40,5".
func formatDims(dims []int) string {
	var b bytes.Buffer
	for i, d := range dims {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", d)
	}
	return b.String()
}

func parseDims(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var dims []int
	for _, part := range bytes.Split([]byte(s), []byte(",")) {
		var d int
		if _, err := fmt.Sscanf(string(part), "%d", &d); err != nil {
			return nil, fmt.Errorf("%w: dims %q", ErrCorrupt, s)
		}
		dims = append(dims, d)
	}
	return dims, nil
}
