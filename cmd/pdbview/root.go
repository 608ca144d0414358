package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chrisnovak/pdbcore/mmapfile"
	"github.com/chrisnovak/pdbcore/pdb"
)

var (
	outputFile string
	output     io.Writer

	useMmap bool
	logVerbose bool
	logger  = logrus.New()
)

// openPDB opens the PDB file named by path, honoring --mmap and
// --log-verbose. Callers get back the File plus a closer that must be
// deferred; for the mmap path the closer also unmaps the backing file.
func openPDB(path string) (*pdb.File, func(), error) {
	if logVerbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if !useMmap {
		f, err := pdb.Open(path, pdb.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}

	m, err := mmapfile.Open(path)
	if err != nil {
		return nil, nil, err
	}

	f, err := pdb.OpenReader(m, m.Size(), pdb.WithLogger(logger))
	if err != nil {
		m.Close()
		return nil, nil, err
	}
	return f, func() { f.Close(); m.Close() }, nil
}

var rootCmd = &cobra.Command{
	Use:   "pdbview",
	Short: "PDB file viewer and analyzer",
	Long: `pdbview is a command-line tool for viewing and analyzing
Microsoft PDB (Program Database) files.

It can display symbols, types, modules, and other debug information
stored in PDB files.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			output = f
		} else {
			output = os.Stdout
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if f, ok := output.(*os.File); ok && f != os.Stdout {
			f.Close()
		}
	},
}

func init() {
	logger.SetOutput(os.Stderr)

	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "write output to file instead of stdout")
	rootCmd.PersistentFlags().BoolVar(&useMmap, "mmap", false, "memory-map the PDB file instead of using buffered reads")
	rootCmd.PersistentFlags().BoolVar(&logVerbose, "log-verbose", false, "log benign-skip notices (missing optional streams, FASTLINK) to stderr")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(symbolsCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(dumpCmd)
}
