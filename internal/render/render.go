// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package render rasterizes the tile index into map images. Drawing
// is pure: the same tile generation and options always produce the
// same bytes, which is what makes the render cache safe.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/mapgrid/atlas/internal/models"
)

// Tile colors by type. Estate-connected tiles merge visually through
// the adjacency flags rather than a separate color.
var (
	colorBackground = color.RGBA{R: 0x0d, G: 0x0e, B: 0x13, A: 0xff}
	colorOwned      = color.RGBA{R: 0x3d, G: 0x3a, B: 0x46, A: 0xff}
	colorUnowned    = color.RGBA{R: 0x09, G: 0x08, B: 0x0a, A: 0xff}
	colorRoad       = color.RGBA{R: 0x71, G: 0x6c, B: 0x7a, A: 0xff}
	colorPlaza      = color.RGBA{R: 0x70, G: 0xac, B: 0x76, A: 0xff}
	colorDistrict   = color.RGBA{R: 0x50, G: 0x54, B: 0xd4, A: 0xff}
	colorSelected   = color.RGBA{R: 0xff, G: 0x99, B: 0x90, A: 0xff}
	colorOnSale     = color.RGBA{R: 0x4a, G: 0x90, B: 0xe2, A: 0xff}
)

// Coord is a grid coordinate.
type Coord struct {
	X int
	Y int
}

// Options control one render.
type Options struct {
	// Width and Height are the output dimensions in pixels.
	Width  int
	Height int

	// Size is the edge length of one tile in pixels.
	Size int

	// Center is the grid coordinate drawn at the image center.
	Center Coord

	// Selected coordinates are highlighted.
	Selected []Coord

	// ShowOnSale tints tiles with an active order.
	ShowOnSale bool
}

// Limits for request validation.
const (
	MaxDimension = 4096
	MaxTileSize  = 64
)

// Validate checks option bounds before rendering.
func (o Options) Validate() error {
	if o.Width <= 0 || o.Height <= 0 || o.Width > MaxDimension || o.Height > MaxDimension {
		return fmt.Errorf("invalid dimensions %dx%d (max %d)", o.Width, o.Height, MaxDimension)
	}
	if o.Size <= 0 || o.Size > MaxTileSize {
		return fmt.Errorf("invalid tile size %d (max %d)", o.Size, MaxTileSize)
	}
	return nil
}

// CacheKey returns a canonical string for the options, used to key the
// render cache.
func (o Options) CacheKey() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%dx%d/%d@%d,%d;sale=%t", o.Width, o.Height, o.Size, o.Center.X, o.Center.Y, o.ShowOnSale)
	for _, s := range o.Selected {
		fmt.Fprintf(&b, ";%d,%d", s.X, s.Y)
	}
	return b.String()
}

// Draw renders the visible window of the tile index.
func Draw(tiles map[string]*models.Tile, opts Options) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(colorBackground), image.Point{}, draw.Src)

	selected := make(map[string]bool, len(opts.Selected))
	for _, s := range opts.Selected {
		selected[models.TileID(s.X, s.Y)] = true
	}

	pad := opts.Size / 8
	if pad < 1 && opts.Size >= 4 {
		pad = 1
	}

	// Visible coordinate window, one tile of slack on each side.
	halfW := opts.Width/(2*opts.Size) + 1
	halfH := opts.Height/(2*opts.Size) + 1

	for x := opts.Center.X - halfW; x <= opts.Center.X+halfW; x++ {
		for y := opts.Center.Y - halfH; y <= opts.Center.Y+halfH; y++ {
			id := models.TileID(x, y)
			t, ok := tiles[id]
			if !ok {
				continue
			}

			// Pixel origin of this tile's cell; grid y grows north,
			// image y grows south.
			px := opts.Width/2 + (x-opts.Center.X)*opts.Size
			py := opts.Height/2 - (y-opts.Center.Y)*opts.Size

			c := tileColor(t)
			if selected[id] {
				c = colorSelected
			} else if opts.ShowOnSale && t.Price > 0 {
				c = colorOnSale
			}

			left, top := px+pad, py+pad
			// A set flag means the neighbor is part of the same shape;
			// extend the fill across the gutter so they merge.
			if t.Left {
				left = px - pad
			}
			if t.Top {
				top = py - pad
			}
			fillRect(img, left, top, px+opts.Size-pad, py+opts.Size-pad, c)
			if t.TopLeft && t.Top && t.Left {
				fillRect(img, px-pad, py-pad, px+pad, py+pad, c)
			}
		}
	}
	return img
}

// PNG renders and encodes in one step.
func PNG(tiles map[string]*models.Tile, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, Draw(tiles, opts)); err != nil {
		return nil, fmt.Errorf("png encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}

func tileColor(t *models.Tile) color.RGBA {
	switch t.Type {
	case models.TypeOwned:
		return colorOwned
	case models.TypeRoad:
		return colorRoad
	case models.TypePlaza:
		return colorPlaza
	case models.TypeDistrict:
		return colorDistrict
	default:
		return colorUnowned
	}
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	r := image.Rect(x0, y0, x1, y1).Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}
