package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctimpute/ctimpute/internal/refpanel"
	"github.com/ctimpute/ctimpute/internal/stream"
	"github.com/ctimpute/ctimpute/internal/symbol"
	"github.com/stretchr/testify/require"
)

const sampleM3VCF = `##n_blocks=1
##n_haps=4
##n_markers=2
#CHROM POS ID REF ALT QUAL FILTER INFO FORMAT SAMPLES
1 100 . A T . . VARIANTS=2;REPS=2 GT 0 0 1 1
1 100 . A T . . Recom=0.01 00
1 200 . A T . . Recom=0.02 01
`

// TestRunImpute_EndToEnd_WritesDosageStream exercises the impute
// command's full path: parsing an M3VCF panel file, reading a packed
// target symbol stream, running the engine, and writing back a dosage
// stream the same way ctimpute impute does from the CLI.
//
// Given: an on-disk M3VCF panel and a matching packed target stream
// When: runImpute executes with the linear engine and a local cache
// Then: the output file decodes to one bounded dosage per marker
func TestRunImpute_EndToEnd_WritesDosageStream(t *testing.T) {
	dir := t.TempDir()
	panelPath := filepath.Join(dir, "panel.m3vcf")
	require.NoError(t, os.WriteFile(panelPath, []byte(sampleM3VCF), 0o644))

	targetPath := filepath.Join(dir, "target.bin")
	targetFile, err := os.Create(targetPath)
	require.NoError(t, err)
	require.NoError(t, stream.WriteSymbols(targetFile, []symbol.Symbol{symbol.Ref, symbol.Missing}))
	require.NoError(t, targetFile.Close())

	outPath := filepath.Join(dir, "dosages.bin")

	imputePanelPath = panelPath
	imputeTargetPath = targetPath
	imputeOutPath = outPath
	imputeMode = "linear"
	imputeCache = "local"
	imputeCacheBound = 4
	imputeWorkers = 1
	imputeConfigPath = ""

	require.NoError(t, runImpute(imputeCmd, nil))

	outFile, err := os.Open(outPath)
	require.NoError(t, err)
	defer outFile.Close()

	dosages, err := stream.ReadAllDosages(outFile)
	require.NoError(t, err)
	require.Len(t, dosages, 2)
	for _, d := range dosages {
		require.GreaterOrEqual(t, d, 0.0)
		require.LessOrEqual(t, d, 1.0)
	}
}

// TestRunImpute_ConstTimeMode exercises the const-time engine selection
// path through the same command plumbing.
func TestRunImpute_ConstTimeMode(t *testing.T) {
	dir := t.TempDir()
	panelPath := filepath.Join(dir, "panel.m3vcf")
	require.NoError(t, os.WriteFile(panelPath, []byte(sampleM3VCF), 0o644))

	targetPath := filepath.Join(dir, "target.bin")
	targetFile, err := os.Create(targetPath)
	require.NoError(t, err)
	require.NoError(t, stream.WriteSymbols(targetFile, []symbol.Symbol{symbol.Alt, symbol.Ref}))
	require.NoError(t, targetFile.Close())

	outPath := filepath.Join(dir, "dosages.bin")

	imputePanelPath = panelPath
	imputeTargetPath = targetPath
	imputeOutPath = outPath
	imputeMode = "const-time"
	imputeCache = "file"
	imputeCacheRoot = dir
	imputeCacheBound = 2
	imputeWorkers = 2
	imputeConfigPath = ""

	require.NoError(t, runImpute(imputeCmd, nil))
}

// TestLoadPanel_BinarySuffixUsesWireFormat verifies loadPanel round
// trips a panel written by the convert command.
func TestLoadPanel_BinarySuffixUsesWireFormat(t *testing.T) {
	panel, err := refpanel.Parse(strings.NewReader(sampleM3VCF))
	require.NoError(t, err)

	dir := t.TempDir()
	binPath := filepath.Join(dir, "panel.bin")
	f, err := os.Create(binPath)
	require.NoError(t, err)
	require.NoError(t, panel.Write(f))
	require.NoError(t, f.Close())

	loaded, err := loadPanel(binPath)
	require.NoError(t, err)
	require.Equal(t, panel.NHaps, loaded.NHaps)
	require.Equal(t, panel.NMarkers, loaded.NMarkers)
}

// TestResolveCacheBackend_UnknownNameErrors guards the CLI's cache
// backend selection switch.
func TestResolveCacheBackend_UnknownNameErrors(t *testing.T) {
	_, err := resolveCacheBackend(&EngineConfig{Cache: "carrier-pigeon"})
	require.Error(t, err)
}

// TestResolveCacheBackend_TCPRequiresAddr guards the tcp backend's
// required --cache-addr flag.
func TestResolveCacheBackend_TCPRequiresAddr(t *testing.T) {
	_, err := resolveCacheBackend(&EngineConfig{Cache: "tcp"})
	require.Error(t, err)
}
