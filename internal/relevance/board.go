package relevance

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/54b3r/concierge-go/internal/catalog"
	"github.com/54b3r/concierge-go/internal/logging"
)

// Board geometry. A board is BoardColumns x BoardColumns tiles.
const (
	// BoardColumns is the number of tiles per row and per column.
	BoardColumns = 5
	// TileSize is the edge length of one square tile in pixels.
	TileSize = 200

	// labelWidth and labelHeight size the grey box behind each tile label.
	labelWidth  = 60
	labelHeight = 40

	// jpegQuality is the encoder quality for the board image.
	jpegQuality = 85
)

// labelBackground is the fill colour of the label box.
var labelBackground = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// ImageSource loads the product photo for a catalog item.
// Implementations must be safe to call from multiple goroutines.
type ImageSource interface {
	// Image returns the decoded photo for itemID.
	Image(ctx context.Context, itemID string) (image.Image, error)
}

// BoardRenderer draws up to BatchSize product photos onto a white board,
// each scaled into its tile with a "#n" label in the top-left corner.
type BoardRenderer struct {
	// images loads product photos.
	images ImageSource
}

// NewBoardRenderer constructs a BoardRenderer backed by images.
func NewBoardRenderer(images ImageSource) *BoardRenderer {
	return &BoardRenderer{images: images}
}

// Render implements Renderer. Photos are fetched concurrently; a photo that
// fails to load leaves its tile blank but keeps its label so the prompt
// listing still lines up.
func (r *BoardRenderer) Render(ctx context.Context, items []catalog.Item) ([]byte, error) {
	if len(items) > BatchSize {
		return nil, fmt.Errorf("board: %d items exceeds board capacity %d", len(items), BatchSize)
	}

	photos := make([]image.Image, len(items))
	var wg sync.WaitGroup
	for i, it := range items {
		wg.Go(func() {
			img, err := r.images.Image(ctx, it.ID)
			if err != nil {
				logging.FromContext(ctx).Debug("board: photo unavailable",
					slog.String("item_id", it.ID),
					slog.Any("error", err),
				)
				return
			}
			photos[i] = img
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	board := DrawBoard(photos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, board, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("board: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// DrawBoard composes photos onto a labelled board. Nil entries leave an
// empty tile.
func DrawBoard(photos []image.Image) *image.RGBA {
	edge := BoardColumns * TileSize
	board := image.NewRGBA(image.Rect(0, 0, edge, edge))
	draw.Draw(board, board.Bounds(), image.White, image.Point{}, draw.Src)

	for i, photo := range photos {
		x := (i % BoardColumns) * TileSize
		y := (i / BoardColumns) * TileSize
		tile := image.Rect(x, y, x+TileSize, y+TileSize)

		if photo != nil {
			draw.ApproxBiLinear.Scale(board, tile, photo, photo.Bounds(), draw.Over, nil)
		}
		drawLabel(board, x, y, "#"+strconv.Itoa(i))
	}
	return board
}

// drawLabel paints the grey label box at (x, y) and writes text into it.
func drawLabel(dst draw.Image, x, y int, text string) {
	box := image.Rect(x, y, x+labelWidth, y+labelHeight)
	draw.Draw(dst, box, image.NewUniform(labelBackground), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x+8, y+labelHeight/2+5),
	}
	d.DrawString(text)
}
