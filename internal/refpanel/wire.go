package refpanel

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// gobBlock mirrors Block with exported scalar fields so it round-trips
// through encoding/gob without a custom GobEncode; RowBits encodes via
// its own GobEncode/GobDecode below.
type gobBlock struct {
	IndMap    []uint16
	NVar      int
	NUniq     int
	ClustSize []float64
	RHap      []RowBits
	RProb     []float32
	AFreq     []float32
}

// GobEncode lets RowBits serialize through encoding/gob despite its
// unexported fields.
func (r RowBits) GobEncode() ([]byte, error) {
	buf := make([]byte, 8+8*len(r.words))
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.nbits))
	for i, w := range r.words {
		binary.BigEndian.PutUint64(buf[8+8*i:16+8*i], w)
	}
	return buf, nil
}

func (r *RowBits) GobDecode(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("refpanel: short RowBits payload")
	}
	r.nbits = int(binary.BigEndian.Uint64(data[0:8]))
	nWords := (len(data) - 8) / 8
	r.words = make([]uint64, nWords)
	for i := 0; i < nWords; i++ {
		r.words[i] = binary.BigEndian.Uint64(data[8+8*i : 16+8*i])
	}
	return nil
}

// Write serializes the panel to w: a 3-word big-endian header
// (NHaps, NMarkers, NBlocks) followed by each block gob-encoded in
// sequence, mirroring the reference implementation's bincode-per-block
// wire format.
func (p *RefPanel) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	header := make([]byte, 12)
	binary.BigEndian.PutUint32(header[0:4], uint32(p.NHaps))
	binary.BigEndian.PutUint32(header[4:8], uint32(p.NMarkers))
	binary.BigEndian.PutUint32(header[8:12], uint32(len(p.Blocks)))
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("refpanel: write header: %w", err)
	}

	enc := gob.NewEncoder(bw)
	for i, b := range p.Blocks {
		gb := gobBlock{
			IndMap: b.IndMap, NVar: b.NVar, NUniq: b.NUniq,
			ClustSize: b.ClustSize, RHap: b.RHap, RProb: b.RProb, AFreq: b.AFreq,
		}
		if err := enc.Encode(&gb); err != nil {
			return fmt.Errorf("refpanel: encode block %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// Read deserializes a panel previously written by Write.
func Read(r io.Reader) (*RefPanel, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("refpanel: read header: %w", err)
	}
	nHaps := int(binary.BigEndian.Uint32(header[0:4]))
	nMarkers := int(binary.BigEndian.Uint32(header[4:8]))
	nBlocks := int(binary.BigEndian.Uint32(header[8:12]))

	panel := &RefPanel{NHaps: nHaps, NMarkers: nMarkers, Blocks: make([]*Block, 0, nBlocks)}
	dec := gob.NewDecoder(r)
	for i := 0; i < nBlocks; i++ {
		var gb gobBlock
		if err := dec.Decode(&gb); err != nil {
			return nil, fmt.Errorf("refpanel: decode block %d: %w", i, err)
		}
		panel.Blocks = append(panel.Blocks, &Block{
			IndMap: gb.IndMap, NVar: gb.NVar, NUniq: gb.NUniq,
			ClustSize: gb.ClustSize, RHap: gb.RHap, RProb: gb.RProb, AFreq: gb.AFreq,
		})
	}
	return panel, nil
}

// BlockReader streams blocks one at a time off an underlying reader,
// the Go analog of the reference's channel-fed RefPanelReader: rather
// than materializing every block up front, a caller pulls one block
// into memory, processes it, and lets it be collected before requesting
// the next. The HMM engines take a whole RefPanel and do not use it.
type BlockReader struct {
	NHaps    int
	NMarkers int
	NBlocks  int

	dec      *gob.Decoder
	consumed int
}

// NewBlockReader reads the wire header and returns a reader ready to
// stream blocks via Next.
func NewBlockReader(r io.Reader) (*BlockReader, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("refpanel: read header: %w", err)
	}
	return &BlockReader{
		NHaps:    int(binary.BigEndian.Uint32(header[0:4])),
		NMarkers: int(binary.BigEndian.Uint32(header[4:8])),
		NBlocks:  int(binary.BigEndian.Uint32(header[8:12])),
		dec:      gob.NewDecoder(r),
	}, nil
}

// Next returns the next block, or nil once all NBlocks have been read.
func (br *BlockReader) Next() (*Block, error) {
	if br.consumed >= br.NBlocks {
		return nil, nil
	}
	var gb gobBlock
	if err := br.dec.Decode(&gb); err != nil {
		return nil, fmt.Errorf("refpanel: decode block %d: %w", br.consumed, err)
	}
	br.consumed++
	return &Block{
		IndMap: gb.IndMap, NVar: gb.NVar, NUniq: gb.NUniq,
		ClustSize: gb.ClustSize, RHap: gb.RHap, RProb: gb.RProb, AFreq: gb.AFreq,
	}, nil
}
