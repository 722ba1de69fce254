package stream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// DosageWriter streams imputed dosages out one value at a time as they
// are produced, rather than buffering the whole result in memory
// first, mirroring the reference implementation's streaming output
// writer.
type DosageWriter struct {
	w *bufio.Writer
}

// NewDosageWriter wraps w for sequential dosage writes.
func NewDosageWriter(w io.Writer) *DosageWriter {
	return &DosageWriter{w: bufio.NewWriter(w)}
}

// Push writes one dosage value.
func (d *DosageWriter) Push(v float64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	if _, err := d.w.Write(buf[:]); err != nil {
		return fmt.Errorf("stream: write dosage: %w", err)
	}
	return nil
}

// Flush drains any buffered output to the underlying writer.
func (d *DosageWriter) Flush() error {
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("stream: flush dosage writer: %w", err)
	}
	return nil
}

// DosageReader reads back a stream written by DosageWriter.
type DosageReader struct {
	r io.Reader
}

// NewDosageReader wraps r for sequential dosage reads.
func NewDosageReader(r io.Reader) *DosageReader {
	return &DosageReader{r: r}
}

// Next returns the next dosage, or io.EOF once the stream is
// exhausted.
func (d *DosageReader) Next() (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, io.EOF
		}
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf[:])), nil
}

// ReadAllDosages drains a DosageReader to a slice, for callers that
// want the whole result in memory.
func ReadAllDosages(r io.Reader) ([]float64, error) {
	dr := NewDosageReader(r)
	var out []float64
	for {
		v, err := dr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}
