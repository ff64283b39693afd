package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/northpeak/invoice-tracker/internal/common"
)

// recognizePage rasterizes one page at the configured DPI and runs the
// recognition engine over it, returning text blocks with bounding polygons
// and confidences. Lower DPI trades recognition accuracy for throughput.
func (e *Extractor) recognizePage(ctx context.Context, pdfPath string, n int) ([]Block, error) {
	tmpDir, err := os.MkdirTemp("", "it-ocr-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			e.logger.Warn("ocr.tmpdir.remove_failed", "dir", tmpDir, "error", rmErr)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -f n -l n -r <dpi> -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm,
		"-f", fmt.Sprintf("%d", n),
		"-l", fmt.Sprintf("%d", n),
		"-r", fmt.Sprintf("%d", e.cfg.DPI),
		"-png", pdfPath, prefix)
	if err != nil {
		return nil, common.WrapError(common.ErrRecognition,
			fmt.Sprintf("pdftoppm page %d: %v (%s)", n, err, truncate(string(errb), 512)))
	}

	matches, _ := filepath.Glob(prefix + "*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, common.WrapError(common.ErrRecognition, fmt.Sprintf("page %d rendered no image", n))
	}

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract,
		matches[0], "stdout", "-l", e.cfg.TesseractLang, "tsv")
	if err != nil {
		return nil, common.WrapError(common.ErrRecognition,
			fmt.Sprintf("tesseract page %d: %v (%s)", n, err, truncate(string(errb), 512)))
	}

	return parseTSVBlocks(string(out)), nil
}

// parseTSVBlocks converts tesseract TSV output into line-level blocks:
// words grouped by (block, paragraph, line), confidence averaged over the
// line's words, polygon from the line's bounding box.
func parseTSVBlocks(tsv string) []Block {
	type lineKey struct{ block, par, line int }
	type lineAcc struct {
		words                    []string
		confSum                  float64
		confN                    int
		left, top, right, bottom int
	}

	accs := make(map[lineKey]*lineAcc)
	var order []lineKey

	rows := strings.Split(tsv, "\n")
	for i, row := range rows {
		if i == 0 || row == "" {
			continue // header
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue // -1 marks non-word rows
		}
		blockN, _ := strconv.Atoi(cols[2])
		parN, _ := strconv.Atoi(cols[3])
		lineN, _ := strconv.Atoi(cols[4])
		left, _ := strconv.Atoi(cols[6])
		top, _ := strconv.Atoi(cols[7])
		width, _ := strconv.Atoi(cols[8])
		height, _ := strconv.Atoi(cols[9])

		k := lineKey{blockN, parN, lineN}
		acc, ok := accs[k]
		if !ok {
			acc = &lineAcc{left: left, top: top, right: left + width, bottom: top + height}
			accs[k] = acc
			order = append(order, k)
		}
		acc.words = append(acc.words, text)
		acc.confSum += conf
		acc.confN++
		if left < acc.left {
			acc.left = left
		}
		if top < acc.top {
			acc.top = top
		}
		if left+width > acc.right {
			acc.right = left + width
		}
		if top+height > acc.bottom {
			acc.bottom = top + height
		}
	}

	blocks := make([]Block, 0, len(order))
	for _, k := range order {
		acc := accs[k]
		l, t, r, b := float64(acc.left), float64(acc.top), float64(acc.right), float64(acc.bottom)
		blocks = append(blocks, Block{
			Text:       strings.Join(acc.words, " "),
			Polygon:    [][2]float64{{l, t}, {r, t}, {r, b}, {l, b}},
			Confidence: float32(acc.confSum / float64(acc.confN) / 100.0),
		})
	}
	return blocks
}
