package world

import (
	"errors"
	"fmt"
)

// ErrChunkOutOfRange is returned when a chunk coordinate lies outside
// the world.
var ErrChunkOutOfRange = errors.New("chunk out of range")

// Chunk is a ChunkSize x ChunkSize view of the world grid. Chunks at
// the world's right or bottom edge may be smaller.
type Chunk struct {
	X    int        `json:"x"`
	Y    int        `json:"y"`
	Data [][]*Block `json:"data"`
}

// ChunkAt extracts the chunk at chunk coordinates (cx, cy).
//
// Postcondition: Returns the chunk, or ErrChunkOutOfRange if (cx, cy)
// does not intersect the grid.
func ChunkAt(grid Grid, cx, cy, chunkSize int) (Chunk, error) {
	if chunkSize < 1 {
		return Chunk{}, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	width, height := grid.Width(), grid.Height()
	startX, startY := cx*chunkSize, cy*chunkSize
	if cx < 0 || cy < 0 || startX >= width || startY >= height {
		return Chunk{}, ErrChunkOutOfRange
	}

	endX := min(startX+chunkSize, width)
	endY := min(startY+chunkSize, height)

	data := make([][]*Block, 0, endY-startY)
	for y := startY; y < endY; y++ {
		row := make([]*Block, endX-startX)
		copy(row, grid[y][startX:endX])
		data = append(data, row)
	}

	return Chunk{X: cx, Y: cy, Data: data}, nil
}

// ChunksInRadius extracts every chunk within the given chunk-coordinate
// radius of (cx, cy), clipped to the world bounds.
//
// Postcondition: Returns the chunks in row-major order; empty when the
// grid is empty.
func ChunksInRadius(grid Grid, cx, cy, radius, chunkSize int) []Chunk {
	if grid.Height() == 0 || chunkSize < 1 {
		return nil
	}

	maxChunkX := (grid.Width() - 1) / chunkSize
	maxChunkY := (grid.Height() - 1) / chunkSize

	minX := max(0, cx-radius)
	maxX := min(maxChunkX, cx+radius)
	minY := max(0, cy-radius)
	maxY := min(maxChunkY, cy+radius)

	var chunks []Chunk
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			chunk, err := ChunkAt(grid, x, y, chunkSize)
			if err != nil {
				continue
			}
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
