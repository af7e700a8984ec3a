package ocr

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"grader/pkg/models"
)

var charsetPattern = regexp.MustCompile(`(?i)charset=["']?([a-z0-9_-]+)`)

// ParseHOCR extracts word tokens from hOCR markup as written by Tesseract and
// other engines. Words are the elements with class ocrx_word; their bbox and
// x_wconf properties come from the title attribute. A word without a usable bbox
// fails the whole parse with an error wrapping models.ErrMalformedBounds.
func ParseHOCR(data []byte) ([]models.WordToken, error) {
	decoded, err := decodeHOCR(data)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(decoded))
	if err != nil {
		return nil, fmt.Errorf("failed to parse hOCR: %w", err)
	}

	var tokens []models.WordToken
	var walkErr error
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if walkErr != nil {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "ocrx_word") {
			tok, ok, err := wordFromNode(n)
			if err != nil {
				walkErr = err
				return
			}
			if ok {
				tokens = append(tokens, tok)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if walkErr != nil {
		return nil, WrapOCRError("ParseHOCR", walkErr, "")
	}

	if len(tokens) == 0 {
		return nil, ErrEmptyDocument
	}
	return tokens, nil
}

// decodeHOCR converts single-byte encodings declared in the document head to UTF-8.
func decodeHOCR(data []byte) ([]byte, error) {
	m := charsetPattern.FindSubmatch(data)
	if m == nil {
		return data, nil
	}

	var enc encoding.Encoding
	switch strings.ToLower(string(m[1])) {
	case "utf-8", "utf8":
		return data, nil
	case "iso-8859-1", "latin1", "latin-1":
		enc = charmap.ISO8859_1
	case "iso-8859-15":
		enc = charmap.ISO8859_15
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	default:
		return data, nil
	}

	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", m[1], err)
	}
	return decoded, nil
}

// wordFromNode reads one ocrx_word. Words without text are skipped; a word whose
// bbox is missing, short or non-numeric is an error.
func wordFromNode(n *html.Node) (models.WordToken, bool, error) {
	text := strings.TrimSpace(nodeText(n))
	if text == "" {
		return models.WordToken{}, false, nil
	}

	title := attr(n, "title")
	props := parseTitle(title)
	bbox := props["bbox"]
	if len(bbox) < 4 {
		return models.WordToken{}, false, fmt.Errorf("%w: word %q has no four-value bbox in title %q",
			models.ErrMalformedBounds, text, title)
	}
	var coords [4]float64
	for i := range coords {
		v, err := strconv.ParseFloat(bbox[i], 64)
		if err != nil {
			return models.WordToken{}, false, fmt.Errorf("%w: word %q has non-numeric bbox in title %q",
				models.ErrMalformedBounds, text, title)
		}
		coords[i] = v
	}

	tok := models.WordToken{
		Text:   text,
		Bounds: models.QuadFromExtent(coords[0], coords[1], coords[2], coords[3]),
	}
	if conf, ok := props["x_wconf"]; ok && len(conf) > 0 {
		if v, err := strconv.ParseFloat(conf[0], 32); err == nil {
			tok.Confidence = float32(v / 100)
		}
	}
	return tok, true, nil
}

// parseTitle splits "bbox 10 20 30 40; x_wconf 95" into its properties.
func parseTitle(title string) map[string][]string {
	props := make(map[string][]string)
	for _, part := range strings.Split(title, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		props[fields[0]] = fields[1:]
	}
	return props
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return b.String()
}
