package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// PageCount returns the number of pages pdfinfo reports for src.
func (t *Tools) PageCount(ctx context.Context, src string) (int, error) {
	out, err := t.run(ctx, nil, t.PDFInfo, "pdfinfo", src)
	if err != nil {
		return 0, fmt.Errorf("could not read PDF info: %w", err)
	}
	return parsePages(out)
}

func parsePages(info []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(info))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.TrimSpace(key) != "Pages" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("invalid page count %q", value)
		}
		return n, nil
	}
	return 0, nil
}

// RenderFirstPage rasterises page 1 of src to outPrefix + ".png" and returns
// that path.
func (t *Tools) RenderFirstPage(ctx context.Context, src, outPrefix string) (string, error) {
	args := []string{"-png", "-r", "150", "-f", "1", "-l", "1", "-singlefile", src, outPrefix}
	if _, err := t.run(ctx, nil, t.PDFToPPM, "pdftoppm", args...); err != nil {
		return "", fmt.Errorf("could not render PDF page: %w", err)
	}
	return outPrefix + ".png", nil
}
