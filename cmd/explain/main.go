// Command fer-explain writes Grad-CAM, saliency and guided Grad-CAM images for
// the face found in a picture.
package main

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/Brownie44l1/fer-lens/internal/config"
	"github.com/Brownie44l1/fer-lens/internal/emotion"
	"github.com/Brownie44l1/fer-lens/internal/explain"
	"github.com/Brownie44l1/fer-lens/internal/facedetect/cascade"
	"github.com/Brownie44l1/fer-lens/internal/model"
	"github.com/Brownie44l1/fer-lens/internal/render"
)

const (
	modeGradCAM  = "gradcam"
	modeSaliency = "saliency"
	modeGuided   = "guided"
	// modeContrast standardises the guided map before writing it.
	modeContrast = "contrast"
)

type options struct {
	image string
	layer string
	class int
	out   string
	mode  string
	size  int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:           "fer-explain",
		Short:         "Visualise what the emotion classifier looks at",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.image, "image", "", "path to the input picture")
	f.StringVar(&opts.layer, "layer", "conv2d_7", "convolution layer to explain")
	f.IntVar(&opts.class, "class", emotion.PredictedClass, "target class index, -1 for the predicted class")
	f.StringVar(&opts.out, "out", "guided_gradCAM.jpg", "output image path")
	f.StringVar(&opts.mode, "mode", modeGuided, "gradcam, saliency, guided or contrast")
	f.IntVar(&opts.size, "size", 128, "edge of the square output image")
	_ = cmd.MarkFlagRequired("image")

	cmd.AddCommand(newLayersCmd())
	return cmd
}

func newLayersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layers",
		Short: "List the layers the explain model exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			meta, err := model.LoadMetadata(cfg.MetadataPath)
			if err != nil {
				return err
			}
			explainer, err := model.OpenExplainer(cfg.ExplainModelPath, meta, cfg.ORTLibraryPath)
			if err != nil {
				return err
			}
			defer explainer.Close()

			for _, name := range explainer.Layers() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func (o options) validate() error {
	switch o.mode {
	case modeGradCAM, modeSaliency, modeGuided, modeContrast:
	default:
		return fmt.Errorf("unknown mode %q, want %s", o.mode, strings.Join([]string{modeGradCAM, modeSaliency, modeGuided, modeContrast}, ", "))
	}
	if o.size <= 0 {
		return fmt.Errorf("size must be positive, got %d", o.size)
	}
	if o.class < emotion.PredictedClass {
		return fmt.Errorf("class must be -1 or a class index, got %d", o.class)
	}
	return nil
}

func runExplain(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Environment)

	data, err := os.ReadFile(opts.image)
	if err != nil {
		return err
	}

	meta, err := model.LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return err
	}
	classifier, err := model.NewClassifier(cfg.ModelPath, meta, cfg.ORTLibraryPath)
	if err != nil {
		return err
	}
	defer classifier.Close()

	explainer, err := model.OpenExplainer(cfg.ExplainModelPath, meta, cfg.ORTLibraryPath)
	if err != nil {
		return err
	}
	defer explainer.Close()

	detector, err := cascade.New(cfg.CascadePath, cascade.DefaultParams())
	if err != nil {
		return err
	}
	defer detector.Close()

	svc := emotion.NewService(detector, classifier, meta, logger).
		WithOffsets(cfg.OffsetX, cfg.OffsetY).
		WithExplainer(explainer)

	exp, err := svc.Explain(ctx, emotion.ExplainRequest{
		Image: data,
		Layer: opts.layer,
		Class: opts.class,
		Size:  opts.size,
	})
	if err != nil {
		return err
	}

	mat, err := renderMode(opts.mode, exp)
	if err != nil {
		return err
	}
	defer mat.Close()

	if err := render.Write(opts.out, mat); err != nil {
		return err
	}

	logger.Info("explanation written",
		slog.String("out", opts.out),
		slog.String("mode", opts.mode),
		slog.String("layer", exp.Layer),
		slog.String("predicted", exp.Prediction.Class),
		slog.String("target", exp.Target),
	)
	return nil
}

func renderMode(mode string, exp *emotion.Explanation) (gocv.Mat, error) {
	if mode == modeGradCAM {
		return render.Overlay(exp.Face, exp.Maps.Heatmap)
	}
	return render.GrayToBGR(grayMode(mode, exp.Maps))
}

// grayMode returns the single-channel image for the non-overlay modes.
// Guided is 255·minmax(saliency)·heatmap, so a zero heatmap stays black.
func grayMode(mode string, maps *explain.Maps) *image.Gray {
	switch mode {
	case modeSaliency:
		return explain.ToGray(maps.Saliency)
	case modeContrast:
		return explain.Deprocess(maps.Guided)
	default:
		return explain.ToGray(maps.Guided)
	}
}
