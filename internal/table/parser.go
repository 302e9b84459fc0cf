package table

import (
	"image"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Zeed80/invoice-recognition/internal/imageproc"
	"github.com/Zeed80/invoice-recognition/internal/invoice"
)

// Structuring element lengths for isolating table rule lines.
const (
	horizontalKernel = 40
	verticalKernel   = 40
)

// minColumns is the minimum number of whitespace-separated columns for a
// text line to count as an item row.
const minColumns = 4

// headerKeywords mark a line as a column header rather than an item row.
var headerKeywords = []string{"наименование", "количество", "цена", "сумма"}

var columnSplit = regexp.MustCompile(`\s{2,}`)

// Parser reconstructs line items from the detected items table region.
type Parser struct{}

// New creates a table Parser.
func New() *Parser {
	return &Parser{}
}

// Parse turns the items table region and its recognized text into line
// items. Structural rule lines found in the image bound how many text
// lines are treated as data rows (one header row is skipped); the actual
// column content comes from splitting each text line on runs of
// whitespace. Rows that cannot be parsed are omitted; Parse never fails.
func (p *Parser) Parse(img image.Image, box image.Rectangle, text string) []invoice.LineItem {
	cropped := imageproc.Crop(img, box)
	binary := imageproc.PrepareInverted(cropped)

	rows, _ := detectStructure(binary)

	lines := strings.Split(text, "\n")
	maxRows := len(lines)
	if len(rows) > 1 {
		// One structural row is the header.
		maxRows = len(rows) - 1
	}

	var items []invoice.LineItem
	for i, line := range lines {
		if i >= maxRows {
			break
		}
		if item, ok := parseRow(line); ok {
			items = append(items, item)
		}
	}
	return items
}

// detectStructure isolates horizontal and vertical rule lines with wide and
// tall morphological openings and returns their sorted positions. Column
// positions are advisory only; content splitting is text-based.
func detectStructure(binary *image.Gray) (rows []int, cols []int) {
	horizontal := imageproc.Open(binary, horizontalKernel, 1)
	for _, c := range imageproc.Components(horizontal) {
		rows = append(rows, c.Box.Min.Y)
	}
	sort.Ints(rows)

	vertical := imageproc.Open(binary, 1, verticalKernel)
	for _, c := range imageproc.Components(vertical) {
		cols = append(cols, c.Box.Min.X)
	}
	sort.Ints(cols)

	return rows, cols
}

func parseRow(line string) (invoice.LineItem, bool) {
	line = strings.TrimSpace(line)
	if line == "" || IsHeaderLine(line) {
		return invoice.LineItem{}, false
	}

	columns := columnSplit.Split(line, -1)
	if len(columns) < minColumns {
		return invoice.LineItem{}, false
	}

	return invoice.LineItem{
		Name:     columns[0],
		Quantity: parseNumber(columns[1]),
		Price:    parseNumber(columns[2]),
		Amount:   parseNumber(columns[3]),
		RawText:  line,
	}, true
}

// IsHeaderLine reports whether a text line contains any of the known
// column header keywords.
func IsHeaderLine(line string) bool {
	lower := strings.ToLower(line)
	for _, keyword := range headerKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func parseNumber(text string) *float64 {
	text = strings.ReplaceAll(text, " ", "")
	text = strings.ReplaceAll(text, ",", ".")
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	return &v
}
