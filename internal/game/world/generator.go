// Package world generates and serves the tile-based game world: a
// fixed-size 2D grid of destructible blocks produced offline from
// layered Perlin noise and stored as JSON.
package world

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"

	"github.com/aquilax/go-perlin"
)

// BlockType identifies a block material.
type BlockType string

const (
	BlockGrass   BlockType = "grass"
	BlockDirt    BlockType = "dirt"
	BlockStone   BlockType = "stone"
	BlockBedrock BlockType = "bedrock"
)

// HealthIndestructible marks a block that cannot be mined.
const HealthIndestructible = -1

// Block is one world tile. A nil *Block is air.
type Block struct {
	Type   BlockType `json:"type"`
	Health int       `json:"health"`
}

func newBlock(t BlockType) *Block {
	switch t {
	case BlockGrass, BlockDirt:
		return &Block{Type: t, Health: 3}
	case BlockStone:
		return &Block{Type: t, Health: 4}
	case BlockBedrock:
		return &Block{Type: t, Health: HealthIndestructible}
	}
	return nil
}

// Grid is the full world, indexed [y][x] with y growing downward.
type Grid [][]*Block

// Width returns the grid width in blocks.
func (g Grid) Width() int {
	if len(g) == 0 {
		return 0
	}
	return len(g[0])
}

// Height returns the grid height in blocks.
func (g Grid) Height() int {
	return len(g)
}

// NoiseParams tunes one noise layer. Persistence and Lacunarity map to
// the underlying generator's alpha and beta weights.
type NoiseParams struct {
	Octaves     int32   `json:"octaves"`
	Persistence float64 `json:"persistence"`
	Lacunarity  float64 `json:"lacunarity"`
	Scale       float64 `json:"scale"`
}

// TerrainParams tunes the surface height map.
type TerrainParams struct {
	NoiseParams
	// HeightMultiplier scales noise output into block rows.
	HeightMultiplier float64 `json:"height_multiplier"`
	// BaseHeight is the mean surface depth as a fraction of world height.
	BaseHeight float64 `json:"base_height"`
}

// CaveParams tunes cave carving.
type CaveParams struct {
	NoiseParams
	// Threshold is the noise value above which a block becomes cave air.
	Threshold float64 `json:"threshold"`
	// MinDepth keeps caves from breaking the surface.
	MinDepth int `json:"min_depth"`
}

// Params configures a world generation run.
type Params struct {
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Seed      int64         `json:"seed"`
	ChunkSize int           `json:"chunk_size"`
	Terrain   TerrainParams `json:"terrain"`
	Caves     CaveParams    `json:"caves"`
}

// DefaultParams returns the standard 300x100 world tuning.
func DefaultParams() Params {
	return Params{
		Width:     300,
		Height:    100,
		Seed:      69,
		ChunkSize: 16,
		Terrain: TerrainParams{
			NoiseParams: NoiseParams{
				Octaves:     6,
				Persistence: 0.6,
				Lacunarity:  0.5,
				Scale:       10.0,
			},
			HeightMultiplier: 50,
			BaseHeight:       0.3,
		},
		Caves: CaveParams{
			NoiseParams: NoiseParams{
				Octaves:     10,
				Persistence: 0.1,
				Lacunarity:  3.0,
				Scale:       10.0,
			},
			Threshold: 0.2,
			MinDepth:  5,
		},
	}
}

// Generator produces world grids from noise.
type Generator struct {
	params Params
}

// NewGenerator creates a Generator with the given parameters.
//
// Precondition: params.Width, params.Height, and params.ChunkSize must
// be positive.
func NewGenerator(params Params) (*Generator, error) {
	if params.Width < 1 || params.Height < 1 {
		return nil, fmt.Errorf("world dimensions must be positive, got %dx%d", params.Width, params.Height)
	}
	if params.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", params.ChunkSize)
	}
	return &Generator{params: params}, nil
}

// Generate builds the full world grid. The same parameters always
// produce the same grid.
//
// Postcondition: Returns a Height x Width grid. The surface block of
// every column is grass; rows in the bottom MinDepth band are bedrock.
func (g *Generator) Generate() Grid {
	p := g.params
	surface := g.surfaceLevels()
	caves := g.caveMap()

	// Stone and dirt inclusions come from a seeded source so the run
	// stays reproducible.
	rng := rand.New(rand.NewSource(p.Seed))

	grid := make(Grid, p.Height)
	for y := range grid {
		grid[y] = make([]*Block, p.Width)
	}

	for x := 0; x < p.Width; x++ {
		surfaceY := surface[x]

		for y := 0; y < p.Height; y++ {
			switch {
			case y == surfaceY:
				grid[y][x] = newBlock(BlockGrass)
			case y > surfaceY:
				depth := y - surfaceY
				if depth > p.Caves.MinDepth && y >= p.Height-p.Caves.MinDepth {
					// Bottom rows are always bedrock, even inside caves.
					grid[y][x] = newBlock(BlockBedrock)
					continue
				}
				if depth > p.Caves.MinDepth && caves[y][x] > p.Caves.Threshold {
					continue
				}
				switch {
				case depth == 1:
					grid[y][x] = newBlock(BlockGrass)
				case depth <= 5:
					if rng.Float64() < 0.2 {
						grid[y][x] = newBlock(BlockStone)
					} else {
						grid[y][x] = newBlock(BlockDirt)
					}
				case y < p.Height-p.Caves.MinDepth:
					if rng.Float64() < 0.1 {
						grid[y][x] = newBlock(BlockDirt)
					} else {
						grid[y][x] = newBlock(BlockStone)
					}
				default:
					grid[y][x] = newBlock(BlockBedrock)
				}
			}
		}
	}

	return grid
}

// surfaceLevels produces one surface row index per column from 1D noise.
func (g *Generator) surfaceLevels() []int {
	p := g.params
	noise := perlin.NewPerlin(p.Terrain.Persistence, p.Terrain.Lacunarity, p.Terrain.Octaves, p.Seed)

	levels := make([]int, p.Width)
	for x := 0; x < p.Width; x++ {
		nx := float64(x)/float64(p.Width) - 0.5
		value := noise.Noise1D(nx * p.Terrain.Scale)
		level := int(value*p.Terrain.HeightMultiplier + float64(p.Height)*p.Terrain.BaseHeight)
		if level < 0 {
			level = 0
		}
		if level >= p.Height {
			level = p.Height - 1
		}
		levels[x] = level
	}
	return levels
}

// caveMap produces the 2D cave noise field, indexed [y][x].
func (g *Generator) caveMap() [][]float64 {
	p := g.params
	noise := perlin.NewPerlin(p.Caves.Persistence, p.Caves.Lacunarity, p.Caves.Octaves, p.Seed)

	field := make([][]float64, p.Height)
	for y := range field {
		field[y] = make([]float64, p.Width)
		ny := float64(y)/float64(p.Height) - 0.5
		for x := 0; x < p.Width; x++ {
			nx := float64(x)/float64(p.Width) - 0.5
			field[y][x] = noise.Noise2D(nx*p.Caves.Scale, ny*p.Caves.Scale)
		}
	}
	return field
}

// Save writes the grid to path as JSON.
//
// Postcondition: The file at path contains the grid, readable by Load.
func Save(grid Grid, path string) error {
	data, err := json.Marshal(grid)
	if err != nil {
		return fmt.Errorf("encoding world: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing world file: %w", err)
	}
	return nil
}

// Load reads a grid previously written by Save.
//
// Postcondition: Returns the decoded grid or a non-nil error.
func Load(path string) (Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading world file: %w", err)
	}
	var grid Grid
	if err := json.Unmarshal(data, &grid); err != nil {
		return nil, fmt.Errorf("decoding world: %w", err)
	}
	return grid, nil
}
