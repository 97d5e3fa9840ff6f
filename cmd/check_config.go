package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"motionwatch/capture"
	"motionwatch/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config file and print the resolved per-camera tuning",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		fmt.Printf("Check interval: %v, workers: %d, detection: %s\n\n",
			cfg.CheckInterval, cfg.WorkerCount(), cfg.Detection.Mode)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "CAMERA\tMOTION SOURCE\tTHRESHOLD\tSENSITIVITY\tWIDTH\tMIN FRAMES\tCOOLDOWN\tRATE")
		fmt.Fprintln(w, "------\t-------------\t---------\t-----------\t-----\t----------\t--------\t----")
		for _, cam := range cfg.Cameras {
			t := cfg.Tuning(cam)
			fmt.Fprintf(w, "%s\t%s\t%.0f\t%.0f\t%d\t%d\t%v\t%.2f\n",
				cam.Name, capture.Redact(cam.MotionSource()),
				t.Threshold, t.Sensitivity, t.DownscaleWidth,
				t.MinMotionFrames, t.CooldownPeriod, t.LearningRate)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}
