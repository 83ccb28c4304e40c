package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/airbusgeo/subtiler"
	"github.com/spf13/cobra"
)

func newGridCodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gridcode granule.json|name",
		Short: "print the MGRS grid code of a granule",
		Long: "print the MGRS grid code of a granule, read from a UMM-G json document\n" +
			"(MGRS_TILE_ID attribute or GranuleUR) or parsed from a granule or file name",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := gridCode(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
}

func gridCode(arg string) (subtiler.GridCode, error) {
	if strings.HasSuffix(strings.ToLower(arg), ".json") {
		umm, err := os.ReadFile(arg)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", arg, err)
		}
		return subtiler.GridCodeFromGranule(umm)
	}
	return subtiler.GridCodeFromName(arg)
}
