package card

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/go-pdf/fpdf"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	apperrors "github.com/yanqian/truthcard/pkg/errors"
)

// Format is an export file type.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpg"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a query value to a Format. Empty means PNG.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", apperrors.Wrap("invalid_format", fmt.Sprintf("unsupported export format %q", raw), nil)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPDF:
		return "application/pdf"
	default:
		return "image/png"
	}
}

// Filename is the download name offered to the browser.
func (f Format) Filename() string {
	return "truthcard." + string(f)
}

const (
	baseWidth   = 480
	margin      = 20
	lineHeight  = 16
	wrapColumns = (baseWidth - 2*margin) / 7
	// Scale matches the 2x device pixel ratio the card is captured at.
	Scale = 2
)

var (
	colorBackground = color.RGBA{R: 0x0a, G: 0x0a, B: 0x0a, A: 0xff}
	colorBorder     = color.RGBA{R: 0x06, G: 0xb6, B: 0xd4, A: 0xff}
	colorText       = color.RGBA{R: 0xe5, G: 0xe7, B: 0xeb, A: 0xff}
	colorMuted      = color.RGBA{R: 0x37, G: 0x41, B: 0x51, A: 0xff}
	colorPink       = color.RGBA{R: 0xff, G: 0x00, B: 0x55, A: 0xff}
	colorOrange     = color.RGBA{R: 0xff, G: 0x99, B: 0x00, A: 0xff}
	colorGreen      = color.RGBA{R: 0x00, G: 0xff, B: 0x99, A: 0xff}
	colorBlue       = color.RGBA{R: 0x00, G: 0x99, B: 0xff, A: 0xff}
	colorRed        = color.RGBA{R: 0xdc, G: 0x26, B: 0x26, A: 0xff}
	colorYellow     = color.RGBA{R: 0xea, G: 0xb3, B: 0x08, A: 0xff}
	colorMeterGreen = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
)

// Render draws the card and encodes it in the requested format.
func Render(c Card, format Format) ([]byte, error) {
	img := Draw(c)
	var buf bytes.Buffer
	switch format {
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, apperrors.Wrap("render_error", "failed to encode png", err)
		}
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
			return nil, apperrors.Wrap("render_error", "failed to encode jpeg", err)
		}
	case FormatPDF:
		if err := writePDF(&buf, img); err != nil {
			return nil, apperrors.Wrap("render_error", "failed to build pdf", err)
		}
	default:
		return nil, apperrors.Wrap("invalid_format", fmt.Sprintf("unsupported export format %q", format), nil)
	}
	return buf.Bytes(), nil
}

// Draw lays the card out at 1x and upscales it by Scale.
func Draw(c Card) *image.RGBA {
	lines := make([][]string, 0, len(c.Lines))
	total := 0
	for _, l := range c.Lines {
		wrapped := wrap("> "+l.Highlight, wrapColumns)
		lines = append(lines, wrapped)
		total += len(wrapped)
	}
	flags := c.ActiveFlags()
	height := 130 + total*lineHeight + 12*len(lines) + 30 + len(c.Heatmap)*22 + margin
	if len(flags) > 0 {
		height += 2 * lineHeight
	}

	base := image.NewRGBA(image.Rect(0, 0, baseWidth, height))
	fill(base, base.Bounds(), colorBackground)
	strokeRect(base, base.Bounds().Inset(4), colorBorder)

	y := 34
	text(base, margin, y, "TRUTHCARD.AI", colorBorder)
	y += 24
	text(base, margin, y, fmt.Sprintf("CRINGE SCORE: %.2f%%", c.Score), colorText)
	y += 10
	meter := image.Rect(margin, y, baseWidth-margin, y+14)
	fill(base, meter, colorMuted)
	filled := meter
	filled.Max.X = meter.Min.X + int(float64(meter.Dx())*c.Score/100)
	fill(base, filled, meterColor(c.Score))
	y += 34
	text(base, margin, y, "SEVERITY: "+strings.ToUpper(string(c.Severity)), severityColor(string(c.Severity)))
	y += 26

	for i, wrapped := range lines {
		col := severityColor(string(c.Lines[i].Severity))
		for _, row := range wrapped {
			text(base, margin, y, row, col)
			y += lineHeight
		}
		y += 12
	}

	if len(flags) > 0 {
		labels := make([]string, 0, len(flags))
		for _, f := range flags {
			labels = append(labels, f.Label)
		}
		text(base, margin, y, "RED FLAGS: "+strings.Join(labels, ", "), colorPink)
		y += 2 * lineHeight
	}

	text(base, margin, y, "COMPATIBILITY HEATMAP", colorPink)
	y += 14
	for _, m := range c.Heatmap {
		text(base, margin, y+11, fmt.Sprintf("%-12s %3.0f", m.Metric, m.Value), colorText)
		bar := image.Rect(margin+130, y, baseWidth-margin, y+14)
		fill(base, bar, colorMuted)
		filledBar := bar
		filledBar.Max.X = bar.Min.X + int(float64(bar.Dx())*m.Value/100)
		fill(base, filledBar, heatColor(m.Value))
		y += 22
	}

	scaled := image.NewRGBA(image.Rect(0, 0, baseWidth*Scale, height*Scale))
	xdraw.NearestNeighbor.Scale(scaled, scaled.Bounds(), base, base.Bounds(), xdraw.Src, nil)
	return scaled
}

func writePDF(buf *bytes.Buffer, img *image.RGBA) error {
	var raster bytes.Buffer
	if err := png.Encode(&raster, img); err != nil {
		return err
	}
	w := float64(img.Bounds().Dx())
	h := float64(img.Bounds().Dy())
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: w, Ht: h},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("truthcard", opts, &raster)
	pdf.ImageOptions("truthcard", 0, 0, w, h, false, opts, 0, "")
	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(buf)
}

func text(dst *image.RGBA, x, y int, s string, col color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func fill(dst *image.RGBA, r image.Rectangle, col color.Color) {
	xdraw.Draw(dst, r, image.NewUniform(col), image.Point{}, xdraw.Src)
}

func strokeRect(dst *image.RGBA, r image.Rectangle, col color.Color) {
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+2), col)
	fill(dst, image.Rect(r.Min.X, r.Max.Y-2, r.Max.X, r.Max.Y), col)
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+2, r.Max.Y), col)
	fill(dst, image.Rect(r.Max.X-2, r.Min.Y, r.Max.X, r.Max.Y), col)
}

func meterColor(score float64) color.Color {
	switch {
	case score > 75:
		return colorRed
	case score > 50:
		return colorYellow
	default:
		return colorMeterGreen
	}
}

func heatColor(v float64) color.Color {
	switch {
	case v > 75:
		return colorPink
	case v > 50:
		return colorOrange
	case v > 25:
		return colorGreen
	default:
		return colorBlue
	}
}

func severityColor(severity string) color.Color {
	switch severity {
	case "nuclear":
		return colorRed
	case "medium":
		return colorYellow
	default:
		return colorMeterGreen
	}
}

// wrap breaks s on spaces so no row exceeds width characters.
func wrap(s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return []string{""}
	}
	var (
		rows []string
		cur  strings.Builder
	)
	for _, w := range words {
		if cur.Len() > 0 && cur.Len()+1+len(w) > width {
			rows = append(rows, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	rows = append(rows, cur.String())
	return rows
}
