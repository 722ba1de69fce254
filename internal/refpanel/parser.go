package refpanel

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// RefPanel holds the full in-memory reference panel: overall dimensions
// plus the sequence of blocks that partition the marker axis.
type RefPanel struct {
	NHaps    int
	NMarkers int
	Blocks   []*Block
}

// NBlocks returns the number of blocks in the panel.
func (p *RefPanel) NBlocks() int { return len(p.Blocks) }

// Load parses an M3VCF reference panel from path, transparently
// decompressing gzip input (detected by the .gz suffix). Out of the
// core engine's scope per the imputation specification, but needed to
// produce the Block values the engine consumes.
func Load(path string) (*RefPanel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("refpanel: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("refpanel: gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	return Parse(r)
}

// Parse reads an M3VCF-formatted panel from r.
func Parse(r io.Reader) (*RefPanel, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	nBlocks, nHaps, nMarkers, err := readMetadata(sc)
	if err != nil {
		return nil, err
	}

	panel := &RefPanel{NHaps: nHaps, NMarkers: nMarkers, Blocks: make([]*Block, 0, nBlocks)}
	for i := 0; i < nBlocks; i++ {
		b, err := readBlock(sc, nHaps)
		if err != nil {
			return nil, fmt.Errorf("refpanel: block %d: %w", i, err)
		}
		panel.Blocks = append(panel.Blocks, b)
	}
	return panel, nil
}

func readMetadata(sc *bufio.Scanner) (nBlocks, nHaps, nMarkers int, err error) {
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "##") {
			kv := strings.SplitN(line[2:], "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "n_blocks":
				nBlocks, err = strconv.Atoi(kv[1])
			case "n_haps":
				nHaps, err = strconv.Atoi(kv[1])
			case "n_markers":
				nMarkers, err = strconv.Atoi(kv[1])
			}
			if err != nil {
				return 0, 0, 0, fmt.Errorf("refpanel: metadata line %q: %w", line, err)
			}
		} else if strings.HasPrefix(line, "#") {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return 0, 0, 0, fmt.Errorf("refpanel: scan header: %w", err)
	}
	if nBlocks == 0 || nHaps == 0 || nMarkers == 0 {
		return 0, 0, 0, fmt.Errorf("refpanel: missing n_blocks/n_haps/n_markers in header")
	}
	return nBlocks, nHaps, nMarkers, nil
}

// infoField extracts the 8th whitespace-separated column (VCF's INFO
// field) from a data line.
func infoField(line string) (info string, rest []string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return "", nil, false
	}
	return fields[7], fields[8:], true
}

func parseInfo(info string) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.Split(info, ";") {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func readBlock(sc *bufio.Scanner, nHaps int) (*Block, error) {
	if !sc.Scan() {
		return nil, fmt.Errorf("unexpected EOF reading block header")
	}
	info, rest, ok := infoField(sc.Text())
	if !ok {
		return nil, fmt.Errorf("malformed block header line")
	}
	fields := parseInfo(info)
	nVar, err := strconv.Atoi(fields["VARIANTS"])
	if err != nil {
		return nil, fmt.Errorf("block header: VARIANTS: %w", err)
	}
	nUniq, err := strconv.Atoi(fields["REPS"])
	if err != nil {
		return nil, fmt.Errorf("block header: REPS: %w", err)
	}

	// rest[0] is a skipped column (the sample/format placeholder); the
	// indmap tokens follow it.
	if len(rest) < 1+nHaps {
		return nil, fmt.Errorf("block header: expected %d indmap entries, got %d", nHaps, len(rest)-1)
	}
	indMap := make([]uint16, nHaps)
	clustSize := make([]float64, nUniq)
	for i, tok := range rest[1 : 1+nHaps] {
		v, err := strconv.ParseUint(tok, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("block header: indmap[%d]: %w", i, err)
		}
		indMap[i] = uint16(v)
		clustSize[v]++
	}

	block := &Block{
		IndMap:    indMap,
		NVar:      nVar,
		NUniq:     nUniq,
		ClustSize: clustSize,
		RHap:      make([]RowBits, nVar),
		RProb:     make([]float32, nVar),
		AFreq:     make([]float32, nVar),
	}

	for v := 0; v < nVar; v++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("unexpected EOF reading variant %d", v)
		}
		vInfo, vRest, ok := infoField(sc.Text())
		if !ok {
			return nil, fmt.Errorf("malformed variant line %d", v)
		}
		vFields := parseInfo(vInfo)
		recom, err := strconv.ParseFloat(vFields["Recom"], 32)
		if err != nil {
			return nil, fmt.Errorf("variant %d: Recom: %w", v, err)
		}
		block.RProb[v] = float32(recom)

		if len(vRest) < 1 {
			return nil, fmt.Errorf("variant %d: missing genotype string", v)
		}
		data := vRest[0]
		if len(data) != nUniq {
			return nil, fmt.Errorf("variant %d: genotype string length %d != nuniq %d", v, len(data), nUniq)
		}
		row := NewRowBits(nUniq)
		var altCount float64
		for u, ch := range data {
			var bit bool
			switch ch {
			case '0':
				bit = false
			case '1':
				bit = true
			default:
				return nil, fmt.Errorf("variant %d: invalid genotype char %q", v, ch)
			}
			row.Set(u, bit)
			if bit {
				altCount += clustSize[u]
			}
		}
		block.RHap[v] = row
		block.AFreq[v] = float32(altCount) / float32(nHaps)
	}

	return block, nil
}
