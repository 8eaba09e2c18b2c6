// Package main provides the offline world generator. It produces the
// JSON world file the game client renders, from layered Perlin noise.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/akeka/terraweb/internal/game/world"
)

func main() {
	start := time.Now()

	defaults := world.DefaultParams()
	width := flag.Int("width", defaults.Width, "world width in blocks")
	height := flag.Int("height", defaults.Height, "world height in blocks")
	seed := flag.Int64("seed", defaults.Seed, "generation seed")
	out := flag.String("out", "world.json", "output file path")
	flag.Parse()

	params := defaults
	params.Width = *width
	params.Height = *height
	params.Seed = *seed

	gen, err := world.NewGenerator(params)
	if err != nil {
		log.Fatalf("invalid parameters: %v", err)
	}

	grid := gen.Generate()
	if err := world.Save(grid, *out); err != nil {
		log.Fatalf("saving world: %v", err)
	}

	chunksX := (grid.Width() + params.ChunkSize - 1) / params.ChunkSize
	chunksY := (grid.Height() + params.ChunkSize - 1) / params.ChunkSize
	fmt.Fprintf(os.Stdout, "generated %dx%d world (seed=%d, %dx%d chunks) to %s [%s]\n",
		grid.Width(), grid.Height(), params.Seed, chunksX, chunksY, *out, time.Since(start))
}
