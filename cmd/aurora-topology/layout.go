package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Arvo-AI/aurora-sub002/internal/layout"
	"github.com/Arvo-AI/aurora-sub002/internal/render"
	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

func layoutCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "layout <snapshot-file>",
		Short: "Lay out a JSON or YAML snapshot file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := topology.DecodeFile(args[0])
			if err != nil {
				return err
			}
			if err := snap.Check(); err != nil {
				return err
			}
			layoutConfig := envOrFlag(cmd, "layout-config", envPrefix+"LAYOUT_CONFIG")
			opts, err := loadLayoutOptions(layoutConfig)
			if err != nil {
				return err
			}

			engine := layout.NewEngine(opts, slog.Default(), nil)
			res, err := engine.Compute(cmd.Context(), snap)
			if err != nil {
				return err
			}
			g := render.Build(snap, res, engine.Options())

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(g)
			case "dot":
				b, err := render.DOT(g)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(b))
				return err
			case "table":
				_, err := fmt.Fprintln(out, render.Table(g))
				return err
			default:
				return fmt.Errorf("unknown format %q (want json, dot or table)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json, dot or table")
	cmd.Flags().String("layout-config", "", "YAML file overriding layout geometry (env: "+envPrefix+"LAYOUT_CONFIG)")
	return cmd
}
