package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <pdb-file>",
	Short: "Display PDB file information",
	Long:  `Display general information about a PDB file including version, GUID, age, and statistics.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	pdbPath := args[0]

	f, closeFile, err := openPDB(pdbPath)
	if err != nil {
		return fmt.Errorf("failed to open PDB: %w", err)
	}
	defer closeFile()

	info, err := f.Info()
	if err != nil {
		return fmt.Errorf("failed to read PDB info: %w", err)
	}

	fmt.Fprintf(output, "PDB File: %s\n", pdbPath)
	fmt.Fprintf(output, "Version: %d\n", info.Version)
	fmt.Fprintf(output, "Signature: 0x%08X\n", info.Signature)
	fmt.Fprintf(output, "Age: %d\n", info.Age)
	fmt.Fprintf(output, "GUID: %s\n", info.GUID)
	fmt.Fprintf(output, "Block Size: %d\n", f.BlockSize())

	numStreams, err := f.NumStreams()
	if err == nil {
		fmt.Fprintf(output, "Number of Streams: %d\n", numStreams)
	}

	moduleCount, err := f.ModuleCount()
	if err == nil {
		fmt.Fprintf(output, "Number of Modules: %d\n", moduleCount)
	}

	symbols, err := f.Symbols()
	if err == nil {
		fmt.Fprintf(output, "Public Symbols: %d\n", symbols.PublicCount())
	}

	types, err := f.Types()
	if err == nil {
		fmt.Fprintf(output, "Types: %d\n", types.Count())
	}

	if info.UsesDebugFastLink {
		fmt.Fprintf(output, "Linked with /DEBUG:FASTLINK\n")
	}

	return nil
}
