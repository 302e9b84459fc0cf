package ocr

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	datePattern   = regexp.MustCompile(`\d{2}[./-]\d{2}[./-]\d{4}`)
	amountPattern = regexp.MustCompile(`(\d+(?:[\s.,]\d+)*)\s*(?:руб\.?|₽|RUB)`)
	innPattern    = regexp.MustCompile(`(?:ИНН|INN)[:\s]*(\d{10}|\d{12})`)

	lineSpacePattern = regexp.MustCompile(`[ \t]+`)
)

// Postprocess canonicalizes recognized text. Single space/tab separators
// collapse to one space; runs of two or more (and tabs) collapse to
// exactly two spaces, and line breaks are preserved — table parsing
// splits rows on newlines and columns on double spaces, so both
// boundaries must survive normalization. The first date-like, amount-like
// and tax-id-like substrings are rewritten into canonical forms in place.
// Text with no matches passes through unchanged aside from the whitespace
// normalization.
func Postprocess(text string) string {
	text = normalizeWhitespace(text)

	if m := datePattern.FindString(text); m != "" {
		canonical := strings.NewReplacer("/", ".", "-", ".").Replace(m)
		text = strings.Replace(text, m, canonical, 1)
	}

	if loc := amountPattern.FindStringSubmatchIndex(text); loc != nil {
		amount := text[loc[2]:loc[3]]
		amount = strings.ReplaceAll(amount, " ", "")
		amount = strings.ReplaceAll(amount, ",", ".")
		text = text[:loc[0]] + amount + " руб." + text[loc[1]:]
	}

	if loc := innPattern.FindStringSubmatchIndex(text); loc != nil {
		text = text[:loc[0]] + "ИНН: " + text[loc[2]:loc[3]] + text[loc[1]:]
	}

	return correctConfusions(text)
}

func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(lineSpacePattern.ReplaceAllStringFunc(line, collapseRun))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// collapseRun keeps column delimiters recognizable: a run of two or more
// separators, or any tab, stays a double space; everything else becomes a
// single space.
func collapseRun(run string) string {
	if len(run) >= 2 || strings.Contains(run, "\t") {
		return "  "
	}
	return " "
}

// correctConfusions fixes the common OCR confusions 0/О and 1/I, but only
// inside tokens dominated by Cyrillic letters. Purely numeric substrings
// such as dates, amounts and tax ids are left untouched.
func correctConfusions(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	start := 0
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] != ' ' && text[i] != '\n' {
			continue
		}
		token := text[start:i]
		b.WriteString(correctToken(token))
		if i < len(text) {
			b.WriteByte(text[i])
		}
		start = i + 1
	}
	return b.String()
}

func correctToken(token string) string {
	letters, digits := 0, 0
	for _, r := range token {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			letters++
		case unicode.IsDigit(r):
			digits++
		}
	}
	if letters == 0 || digits == 0 || digits >= letters {
		return token
	}
	return strings.NewReplacer("0", "О", "1", "I").Replace(token)
}
