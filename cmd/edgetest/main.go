// Command edgetest runs edge extraction on a single drop image and prints
// the point count and calibration estimate.
package main

import (
	"flag"
	"fmt"
	"os"

	"pendant-drop/internal/calibrate"
	"pendant-drop/internal/config"
	"pendant-drop/internal/edge"
	"pendant-drop/internal/frame"
	"pendant-drop/pkg/geometry"

	"github.com/disintegration/imaging"
)

func main() {
	imagePath := flag.String("image", "", "Path to drop image (PNG, JPEG or TIFF)")
	configPath := flag.String("config", "", "Settings file (defaults when empty)")
	calib := flag.Bool("calibration", false, "Use the calibration edge settings")
	full := flag.Bool("full", false, "Ignore the configured crop and use the whole image")
	outPath := flag.String("out", "", "Write the edge mask to this PNG")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: edgetest -image <path> [-config settings.json] [-calibration] [-full] [-out mask.png]")
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
			os.Exit(1)
		}
	}

	img, err := imaging.Open(*imagePath, imaging.AutoOrientation(true))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open image: %v\n", err)
		os.Exit(1)
	}
	bounds := img.Bounds()
	fmt.Printf("Loaded image: %dx%d pixels\n", bounds.Dx(), bounds.Dy())

	src, err := frame.FromImage(img)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to convert image: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	crop := cfg.Crop
	if *full {
		crop = frame.Full(bounds.Dx(), bounds.Dy())
	}
	params := cfg.Edge
	if *calib {
		params = cfg.CalibrationEdge
	}

	fmt.Printf("\nEdge parameters:\n")
	fmt.Printf("  Crop: %v (%dx%d)\n", crop, crop.Width(), crop.Height())
	fmt.Printf("  Median: %d  Sigma: %.2f\n", params.FilterSize, params.Sigma)
	fmt.Printf("  Canny: %.0f/%.0f\n", params.CannyLow, params.CannyHigh)
	fmt.Printf("  Min object: %d  Adaptive: %v (x%.2f)\n", params.MinObjectSize, params.Adaptive, params.MinSizeMult)
	fmt.Printf("  CLAHE: %v\n", params.CLAHE.Enabled)

	res, err := edge.ExtractFrame(src, crop, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Edge extraction failed: %v\n", err)
		os.Exit(1)
	}
	defer res.Close()

	cal := calibrate.FromPoints(res.Points)
	fmt.Printf("\nFirst pass: %d points\n", res.FirstPassCount)
	if params.Adaptive {
		fmt.Printf("Adaptive min size: %d\n", res.AdaptiveMinSize)
	}
	fmt.Printf("Final: %d points\n", res.Count())
	fmt.Printf("Centroid: (%.1f, %.1f)  Mean radius: %.1f px\n", cal.CenterX, cal.CenterY, cal.MeanRadius)
	lo, hi := geometry.BoundingBox(res.Points)
	fmt.Printf("Extent: (%d, %d) - (%d, %d)\n", lo.X, lo.Y, hi.X, hi.Y)

	if *outPath != "" {
		mask, err := res.Mask.ToImage()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to convert mask: %v\n", err)
			os.Exit(1)
		}
		if err := imaging.Save(mask, *outPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write mask: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Mask written to %s\n", *outPath)
	}
}
