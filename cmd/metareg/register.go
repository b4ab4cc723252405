package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"metareg/internal/logger"
	"metareg/internal/metrics"
	"metareg/internal/models"
	"metareg/pkg/config"
	"metareg/pkg/imageio"
	"metareg/pkg/metric"
	"metareg/pkg/registration"
	"metareg/pkg/visualization"
)

var (
	fixedPath      string
	movingPath     string
	fixedMaskPath  string
	movingMaskPath string
	configPath     string
	outputDir      string
	numCores       int
	metricsAddr    string
	iterations     int
	useBias        bool
	verbose        bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a moving image onto a fixed image",
	Long: `Register reads the fixed and moving images (2D files or directories of
numbered slices), runs the metamorphosis optimisation and writes the deformed
image, the displacement field and, with bias estimation, the bias image.`,
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&fixedPath, "fixed", "", "Fixed (target) image or slice directory")
	registerCmd.Flags().StringVar(&movingPath, "moving", "", "Moving image or slice directory")
	registerCmd.Flags().StringVar(&fixedMaskPath, "fixed-mask", "", "Optional mask on the fixed image grid")
	registerCmd.Flags().StringVar(&movingMaskPath, "moving-mask", "", "Optional moving-image mask, sampled on the fixed image grid")
	registerCmd.Flags().StringVar(&configPath, "config", "config.yaml", "Configuration file")
	registerCmd.Flags().StringVar(&outputDir, "output-dir", "", "Output directory (overrides config)")
	registerCmd.Flags().IntVar(&numCores, "cores", 0, "Number of CPU cores to use (overrides config)")
	registerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (overrides config)")
	registerCmd.Flags().IntVar(&iterations, "iterations", 0, "Maximum number of iterations (overrides config)")
	registerCmd.Flags().BoolVar(&useBias, "bias", false, "Estimate an intensity bias (overrides config)")
	registerCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every candidate step")
	registerCmd.MarkFlagRequired("fixed")
	registerCmd.MarkFlagRequired("moving")
	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.Output.Directory = outputDir
	}
	if flags.Changed("cores") {
		cfg.Processing.NumCores = numCores
	}
	if flags.Changed("metrics-addr") {
		cfg.Output.MetricsAddr = metricsAddr
	}
	if flags.Changed("iterations") {
		cfg.Registration.NumberOfIterations = iterations
	}
	if flags.Changed("bias") {
		cfg.Registration.UseBias = useBias
	}
	if flags.Changed("verbose") {
		cfg.Output.Verbose = verbose
	}

	level := logger.LogInfo
	if cfg.Output.Verbose {
		level = logger.LogDebug
	}
	log := logger.NewStdOutLogger(level)

	fixed, err := loadInput(fixedPath, cfg)
	if err != nil {
		return errors.Wrap(err, "loading fixed image")
	}
	moving, err := loadInput(movingPath, cfg)
	if err != nil {
		return errors.Wrap(err, "loading moving image")
	}
	log.Infof("Loaded fixed image %v and moving image %v", fixed.Geometry.Size, moving.Geometry.Size)

	engine := registration.NewEngine(cfg.RegistrationParams(), log)
	engine.SetFixedImage(fixed)
	engine.SetMovingImage(moving)
	if fixedMaskPath != "" {
		mask, err := loadInput(fixedMaskPath, cfg)
		if err != nil {
			return errors.Wrap(err, "loading fixed mask")
		}
		engine.SetFixedMask(mask)
	}
	if movingMaskPath != "" {
		mask, err := loadInput(movingMaskPath, cfg)
		if err != nil {
			return errors.Wrap(err, "loading moving mask")
		}
		engine.SetMovingMask(mask)
	}

	observers := []registration.Observer{func(r registration.IterationReport) {
		log.Infof("Iteration %d [%s]: energy %.6g, image %.6g, velocity %.6g, rate %.6g, fraction %.4f, learning rate %g",
			r.Iteration, r.Status, r.Energy, r.ImageEnergy, r.VelocityEnergy, r.RateEnergy, r.ImageEnergyFraction, r.LearningRate)
	}}

	if cfg.Output.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		recorder := metrics.NewRecorder(reg)
		observers = append(observers, recorder.Observe)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		server := &http.Server{Addr: cfg.Output.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
		defer server.Close()
		log.Infof("Serving metrics on %s/metrics", cfg.Output.MetricsAddr)
	}

	if cfg.Output.SaveIntermediaryResults {
		stepDir := filepath.Join(cfg.Output.Directory, "steps")
		observers = append(observers, func(r registration.IterationReport) {
			if r.Status != registration.Iterating {
				return
			}
			if err := saveScalar(filepath.Join(stepDir, fmt.Sprintf("%03d", r.Iteration)), engine.DeformedImage()); err != nil {
				log.Errorf("Failed to save step %d: %v", r.Iteration, err)
			}
		})
	}

	engine.SetObserver(func(r registration.IterationReport) {
		for _, obs := range observers {
			obs(r)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("================================")
	fmt.Println("DIFFEOMORPHIC METAMORPHOSIS REGISTRATION")
	fmt.Println("================================")

	startTime := time.Now()
	if err := engine.Run(ctx); err != nil {
		return errors.Wrap(err, "registration failed")
	}
	processingTime := time.Since(startTime)

	length, err := engine.Length()
	if err != nil {
		return err
	}

	fmt.Printf("\nRegistration finished as %s after %d iterations in %.2f seconds\n",
		engine.Status(), engine.Iteration(), processingTime.Seconds())
	fmt.Printf("Energy: %.6g (image %.6g, velocity %.6g, rate %.6g)\n",
		engine.Energy(), engine.ImageEnergy(), engine.VelocityEnergy(), engine.RateEnergy())
	fmt.Printf("Image energy fraction: %.4f\n", engine.ImageEnergyFraction())
	fmt.Printf("Path length: %.6g\n", length)

	if err := printQuality(moving, engine.DeformedImage(), fixed); err != nil {
		log.Errorf("Quality report failed: %v", err)
	}

	if err := saveResults(cfg.Output.Directory, engine); err != nil {
		return err
	}
	fmt.Printf("\nResults saved to: %s\n", cfg.Output.Directory)
	return nil
}

func loadInput(path string, cfg *config.Config) (*models.Field, error) {
	return imageio.Load(path, cfg.Input.Spacing, cfg.Input.SliceGap)
}

func printQuality(moving, deformed, fixed *models.Field) error {
	before, err := metric.Compare(moving, fixed, nil)
	if err != nil {
		return err
	}
	after, err := metric.Compare(deformed, fixed, nil)
	if err != nil {
		return err
	}
	fmt.Printf("\nAgreement with the fixed image (before -> after):\n")
	fmt.Printf("=======================================\n")
	fmt.Printf("Root Mean Square Error (RMSE): %.6f -> %.6f\n", before.RMSE, after.RMSE)
	fmt.Printf("Mean Absolute Difference: %.6f -> %.6f\n", before.MeanAbsDiff, after.MeanAbsDiff)
	fmt.Printf("Correlation: %.4f -> %.4f\n", before.Correlation, after.Correlation)
	fmt.Printf("Structural Similarity Index (SSIM): %.4f -> %.4f\n", before.SSIM, after.SSIM)
	fmt.Printf("Mutual Information (MI): %.4f -> %.4f\n", before.MI, after.MI)
	fmt.Printf("Entropy Difference: %.4f -> %.4f\n", before.EntropyDiff, after.EntropyDiff)
	return nil
}

func saveResults(dir string, engine *registration.Engine) error {
	if err := saveScalar(filepath.Join(dir, "deformed"), engine.DeformedImage()); err != nil {
		return errors.Wrap(err, "saving deformed image")
	}

	disp := engine.Displacement()
	if err := imageio.SaveRaw(filepath.Join(dir, "displacement.raw"), disp); err != nil {
		return errors.Wrap(err, "saving displacement")
	}
	if err := saveHeatmap(filepath.Join(dir, "displacement_magnitude"), visualization.Magnitude(disp), visualization.Sequential(), false); err != nil {
		return errors.Wrap(err, "saving displacement magnitude")
	}

	if engine.Params().UseBias {
		bias := engine.Bias()
		if err := imageio.SaveRaw(filepath.Join(dir, "bias.raw"), bias); err != nil {
			return errors.Wrap(err, "saving bias")
		}
		if err := saveHeatmap(filepath.Join(dir, "bias"), bias, visualization.Diverging(), true); err != nil {
			return errors.Wrap(err, "saving bias heatmap")
		}
	}
	return nil
}

// saveScalar writes a 2D field as name.png, a 3D field as name/slice_*.png
func saveScalar(name string, f *models.Field) error {
	if f.Geometry.Dimension() == 3 {
		return imageio.SaveStack(name, f, 0, 0)
	}
	return imageio.SaveImage(name+".png", f, 0, 0)
}

// saveHeatmap renders z slices of f through colormap into directory name
func saveHeatmap(name string, f *models.Field, colormap *visualization.Colormap, symmetric bool) error {
	viewer, err := visualization.NewViewer(f)
	if err != nil {
		return err
	}
	if symmetric {
		viewer.SetWindow(visualization.SymmetricWindow(f))
	}
	viewer.SetColormap(colormap)
	return viewer.SaveSliceSequence("z", name)
}
