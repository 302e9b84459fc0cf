package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Zeed80/invoice-recognition/internal/detect"
	"github.com/Zeed80/invoice-recognition/internal/invoice"
)

// patterns holds one precompiled expression per region kind. The first
// capture group is the field value.
var patterns = map[detect.RegionKind]*regexp.Regexp{
	detect.RegionInvoiceNumber: regexp.MustCompile(`(?i)(?:Счет|Invoice)[\s№#]*([A-ZА-Я0-9-]+)`),
	detect.RegionDate:          regexp.MustCompile(`(?:от|from)?\s*(\d{2}[./-]\d{2}[./-]\d{4})`),
	detect.RegionTotalAmount:   regexp.MustCompile(`(?i)(?:Итого|Total)[\s:]*(\d+(?:[\s.,]\d+)*)\s*(?:руб|₽|RUB)`),
	detect.RegionSupplierName:  regexp.MustCompile(`(?i)(?:Поставщик|Supplier)[\s:]*([^\n]+)`),
	detect.RegionINN:           regexp.MustCompile(`(?i)(?:ИНН|INN)[\s:]*(\d{10}|\d{12})`),
	detect.RegionAddress:       regexp.MustCompile(`(?i)(?:Адрес|Address)[\s:]*([^\n]+)`),
	detect.RegionPaymentInfo:   regexp.MustCompile(`(?i)(?:Реквизиты|Payment Info)[\s:]*([^\n]+)`),
}

var (
	nonDigits   = regexp.MustCompile(`\D`)
	columnSplit = regexp.MustCompile(`\s{2,}`)
)

// itemHeaderKeywords mark a table header line during bulk item extraction.
var itemHeaderKeywords = []string{"наименование", "количество", "цена", "сумма"}

// Extractor maps raw per-region text to canonical, normalized invoice
// fields.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract pulls the canonical value for a region kind out of recognized
// text. Unknown kinds and unmatched input return a nil value with the raw
// text preserved; Extract never fails.
func (e *Extractor) Extract(text string, kind detect.RegionKind, confidence *float64) invoice.Field {
	pattern, ok := patterns[kind]
	if !ok {
		slog.Warn("Unknown region kind", "kind", kind)
		return invoice.Field{Confidence: confidence, RawText: text}
	}

	match := pattern.FindStringSubmatch(text)
	if match == nil {
		slog.Warn("No field match in text", "kind", kind, "text", text)
		return invoice.Field{Confidence: confidence, RawText: text}
	}

	value := strings.TrimSpace(match[1])
	switch kind {
	case detect.RegionDate:
		value = NormalizeDate(value)
	case detect.RegionTotalAmount:
		value = NormalizeAmount(value)
	case detect.RegionINN:
		value = NormalizeINN(value)
	}

	return invoice.Field{Value: &value, Confidence: confidence, RawText: text}
}

// NormalizeDate unifies date separators to '.' and reparses the result
// under the strict DD.MM.YYYY format. On parse failure the separator-
// unified value is returned as-is rather than dropped.
func NormalizeDate(value string) string {
	value = strings.NewReplacer("/", ".", "-", ".").Replace(value)

	parsed, err := time.Parse("02.01.2006", value)
	if err != nil {
		slog.Error("Failed to parse date", "value", value)
		return value
	}
	return parsed.Format("02.01.2006")
}

// NormalizeAmount strips spaces, converts the decimal comma to a dot and
// reformats to two decimal places. On parse failure the input is returned
// unmodified.
func NormalizeAmount(value string) string {
	cleaned := strings.ReplaceAll(value, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")

	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		slog.Error("Failed to parse amount", "value", value)
		return value
	}
	return fmt.Sprintf("%.2f", amount)
}

// NormalizeINN strips all non-digit characters from a tax id. A result
// whose length is neither 10 nor 12 is logged but still returned; callers
// must validate the length themselves.
func NormalizeINN(value string) string {
	digits := nonDigits.ReplaceAllString(value, "")
	if len(digits) != 10 && len(digits) != 12 {
		slog.Warn("Tax id has invalid length", "inn", digits, "length", len(digits))
	}
	return digits
}

// ExtractItems is the bulk line-item heuristic used when no dedicated
// table parser is available. It splits raw concatenated text into lines,
// drops header lines and parses whitespace-separated columns.
func (e *Extractor) ExtractItems(text string) []invoice.LineItem {
	var items []invoice.LineItem
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isItemHeader(line) {
			continue
		}

		columns := columnSplit.Split(line, -1)
		if len(columns) < 4 {
			continue
		}

		items = append(items, invoice.LineItem{
			Name:     columns[0],
			Quantity: parseNumber(columns[1]),
			Price:    parseNumber(columns[2]),
			Amount:   parseNumber(columns[3]),
			RawText:  line,
		})
	}
	return items
}

func isItemHeader(line string) bool {
	lower := strings.ToLower(line)
	for _, keyword := range itemHeaderKeywords {
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
