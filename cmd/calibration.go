package cmd

import (
	"fmt"
	"strconv"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/resolve-agent/internal/calibration"
)

func newCalibrationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibration",
		Short: "Inspect or edit the controller calibration",
	}
	cmd.PersistentFlags().String("controllers", "", "override calibration.controller_config_path")
	cmd.AddCommand(newCalibrationShowCmd(), newCalibrationSetROICmd())
	return cmd
}

func newCalibrationShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the profile built from the controller config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			path := cfg.Calibration().ControllerConfigPath
			p, err := calibration.LoadFromControllerConfig(path)
			if err != nil {
				return calibration.Failed(err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(p, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			fmt.Fprintf(out, "controller config: %s\n", path)
			fmt.Fprintf(out, "roi: x=%d y=%d width=%d height=%d\n", p.ROI.X, p.ROI.Y, p.ROI.Width, p.ROI.Height)
			for _, name := range p.ControlNames() {
				pt, ok := p.Target(name)
				if !ok {
					fmt.Fprintf(out, "  %-24s not calibrated\n", name)
					continue
				}
				fmt.Fprintf(out, "  %-24s (%d, %d)\n", name, pt.X, pt.Y)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the profile as JSON")
	return cmd
}

func newCalibrationSetROICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-roi X Y WIDTH HEIGHT",
		Short: "Record the viewer region in the controller config",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			var vals [4]int
			for i, a := range args {
				n, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("argument %d: %w", i+1, err)
				}
				vals[i] = n
			}
			roi := calibration.ROI{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}

			p, err := calibration.RecordROI(cfg.Calibration().ControllerConfigPath, roi)
			if err != nil {
				return calibration.Failed(err)
			}
			center := p.Targets[calibration.CenterTarget]
			fmt.Fprintf(cmd.OutOrStdout(), "roi saved to %s, center (%d, %d)\n",
				cfg.Calibration().ControllerConfigPath, center.X, center.Y)

			if path, err := saveProfile(cfg, p); err != nil {
				return err
			} else if path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "profile saved to %s\n", path)
			}
			return nil
		},
	}
}
