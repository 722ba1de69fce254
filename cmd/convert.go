package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ctimpute/ctimpute/internal/refpanel"
)

var (
	convertPanelPath string
	convertOutPath   string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert an M3VCF reference panel into the binary wire format",
	RunE:  runConvert,
}

func init() {
	f := convertCmd.Flags()
	f.StringVar(&convertPanelPath, "panel", "", "Input M3VCF panel (text, optionally .gz)")
	f.StringVar(&convertOutPath, "out", "", "Output binary wire-format panel")
	_ = convertCmd.MarkFlagRequired("panel")
	_ = convertCmd.MarkFlagRequired("out")
}

func runConvert(cmd *cobra.Command, args []string) error {
	panel, err := refpanel.Load(convertPanelPath)
	if err != nil {
		return fmt.Errorf("ctimpute: load panel: %w", err)
	}

	out, err := os.Create(convertOutPath)
	if err != nil {
		return fmt.Errorf("ctimpute: create output: %w", err)
	}
	defer out.Close()

	if err := panel.Write(out); err != nil {
		return fmt.Errorf("ctimpute: write panel: %w", err)
	}

	logrus.Infof("converted %d blocks / %d haplotypes / %d markers to %s", panel.NBlocks(), panel.NHaps, panel.NMarkers, convertOutPath)
	return nil
}
