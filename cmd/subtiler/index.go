package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/airbusgeo/subtiler"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
)

func newIndexCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "intersection index utilities",
	}
	cmd.AddCommand(newIndexLookupCommand(), newIndexBuildCommand())
	return cmd
}

func newIndexLookupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup GRIDCODE...",
		Short: "print the sub-tiles intersecting the given grid cells",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := loadIndex()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range args {
				sts, err := index.Lookup(subtiler.GridCode(a))
				if err != nil {
					return err
				}
				for _, st := range sts {
					b := st.Bounds
					fmt.Fprintf(out, "%s\t%s\t%.10f\t%.10f\t%.10f\t%.10f\n", a, st.GID,
						b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat())
				}
			}
			return nil
		},
	}
}

func newIndexBuildCommand() *cobra.Command {
	var output, sourceGrid, destinationGrid string
	cmd := &cobra.Command{
		Use:   "build rows.csv",
		Short: "build an intersection index document from csv rows",
		Long: "build an intersection index document from csv rows of the form\n" +
			"  mgrs,gid,minlon,minlat,maxlon,maxlat\n" +
			"rows are kept in file order for each mgrs cell. A header row is skipped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()
			index, err := buildIndex(f, sourceGrid, destinationGrid)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				of, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				if err := index.Write(of); err != nil {
					of.Close()
					return fmt.Errorf("write %s: %w", output, err)
				}
				return of.Close()
			}
			return index.Write(w)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&sourceGrid, "source-grid", "MGRS", "source grid name")
	cmd.Flags().StringVar(&destinationGrid, "destination-grid", "GIBS", "destination grid name")
	return cmd
}

func buildIndex(r io.Reader, sourceGrid, destinationGrid string) (*subtiler.Index, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6
	cr.TrimLeadingSpace = true
	index := subtiler.NewIndex(sourceGrid, destinationGrid)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(rec[0], "mgrs") {
			continue
		}
		var vals [4]float64
		for i := range vals {
			if vals[i], err = strconv.ParseFloat(rec[2+i], 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		st := subtiler.Subtile{
			GID: rec[1],
			Bounds: orb.Bound{
				Min: orb.Point{vals[0], vals[1]},
				Max: orb.Point{vals[2], vals[3]},
			},
		}
		if err := index.Add(subtiler.GridCode(rec[0]).Key(), st); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if index.Len() == 0 {
		return nil, fmt.Errorf("no rows")
	}
	return index, nil
}
