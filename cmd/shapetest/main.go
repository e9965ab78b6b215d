// Command shapetest prints a theoretical drop profile, or its placement in
// image space, for one Bond number.
package main

import (
	"flag"
	"fmt"
	"os"

	"pendant-drop/internal/physics"
	"pendant-drop/internal/shape"
)

func main() {
	bond := flag.Float64("bond", 0.3, "Bond number")
	samples := flag.Int("samples", 200, "Profile samples")
	smax := flag.Float64("smax", 5, "Arc-length span")
	radius := flag.Float64("radius", 0, "Apex radius in pixels; prints the placed outline when > 0")
	apexX := flag.Float64("x", 0, "Apex x in pixels")
	apexY := flag.Float64("y", 0, "Apex y in pixels")
	rotation := flag.Float64("rot", 0, "Rotation in radians")
	every := flag.Int("every", 10, "Print every n-th point")
	flag.Parse()

	opts := shape.DefaultOptions()
	opts.Samples = *samples
	opts.SMax = *smax
	if *every < 1 {
		*every = 1
	}

	prof, err := shape.GenerateWith(*bond, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Profile generation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Bond number %.5f, %d samples over s in [0, %.2f]\n", *bond, prof.Len(), *smax)
	fmt.Printf("Dimensionless volume: %.6f\n", physics.VolumeOf(prof, 1))

	if *radius <= 0 {
		fmt.Printf("\n%10s %10s %10s %10s\n", "s", "phi", "r", "z")
		for i := 0; i < prof.Len(); i += *every {
			fmt.Printf("%10.4f %10.4f %10.4f %10.4f\n", prof.S[i], prof.Phi[i], prof.R[i], prof.Z[i])
		}
		return
	}

	p := shape.Params{ApexRadius: *radius, BondNumber: *bond, ApexX: *apexX, ApexY: *apexY, Rotation: *rotation}
	curve := shape.Transform(prof, p)
	fmt.Printf("Placed with %v: %d points\n", p, len(curve))
	fmt.Printf("\n%6s %10s %10s\n", "i", "x", "y")
	for i := 0; i < len(curve); i += *every {
		fmt.Printf("%6d %10.2f %10.2f\n", i, curve[i].X, curve[i].Y)
	}
}
