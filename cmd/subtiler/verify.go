package main

import (
	"errors"
	"fmt"

	"github.com/airbusgeo/subtiler"
	"github.com/spf13/cobra"
)

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify subtile.tif...",
		Short: "check that files are laid out as GIBS sub-tiles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, a := range args {
				ri, err := subtiler.VerifyGeoTIFF(a)
				var mismatch *subtiler.ErrOutputMismatch
				switch {
				case errors.As(err, &mismatch):
					failed++
					fmt.Fprintf(out, "FAIL %v\n", err)
				case err != nil:
					return err
				default:
					fmt.Fprintf(out, "OK   %s %dx%d tiles=%dx%d bounds=[%.10f %.10f %.10f %.10f]\n",
						a, ri.Width, ri.Height, ri.TileWidth, ri.TileHeight,
						ri.Bounds.Min.Lon(), ri.Bounds.Min.Lat(), ri.Bounds.Max.Lon(), ri.Bounds.Max.Lat())
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d/%d files failed verification", failed, len(args))
			}
			return nil
		},
	}
}
