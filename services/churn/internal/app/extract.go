package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
)

// SupportedExtensions lists the file types extraction can read.
var SupportedExtensions = []string{".pdf", ".csv", ".xls", ".xlsx", ".html", ".htm", ".txt", ".jpg", ".jpeg", ".png"}

func extensionOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// extractText reads the document at path as plain text. Tabular inputs are
// rendered as a JSON array of row objects keyed by the header row.
func (a *App) extractText(ctx context.Context, filename, path string) (string, error) {
	var (
		text string
		err  error
	)
	switch ext := extensionOf(filename); ext {
	case ".pdf":
		text, err = a.parsePDF(path)
	case ".csv":
		text, err = parseCSV(path)
	case ".xlsx":
		text, err = parseXLSX(path)
	case ".xls":
		text, err = parseXLS(path)
	case ".html", ".htm":
		text, err = parseHTML(path)
	case ".txt":
		text, err = parseText(path)
	case ".jpg", ".jpeg", ".png":
		text, err = a.runOCR(ctx, path)
	default:
		return "", &UnsupportedExtensionError{Ext: ext}
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func (a *App) parsePDF(path string) (string, error) {
	// pdftotext keeps table layout better; the Go reader is the fallback.
	if text, err := parsePDFWithPdftotext(path); err == nil && text != "" {
		return text, nil
	}
	return parsePDFWithGoLib(path)
}

func parsePDFWithPdftotext(path string) (string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", fmt.Errorf("pdftotext not found: %w", err)
	}
	output, err := exec.Command("pdftotext", "-layout", "-enc", "UTF-8", path, "-").Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return normalizeText(string(output)), nil
}

func parsePDFWithGoLib(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	var buf strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = normalizeText(text); text != "" {
			buf.WriteString(text)
			buf.WriteString("\n")
		}
	}
	return buf.String(), nil
}

func parseCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read csv: %w", err)
	}
	return rowsToJSON(rows)
}

func parseXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("read xlsx rows: %w", err)
	}
	return rowsToJSON(rows)
}

func parseXLS(path string) (string, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return "", fmt.Errorf("open xls: %w", err)
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return "", nil
	}
	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for c := 0; c < row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		rows = append(rows, cells)
	}
	return rowsToJSON(rows)
}

// rowsToJSON treats rows[0] as the header row. Blank header cells are named
// by column position and fully blank rows are skipped.
func rowsToJSON(rows [][]string) (string, error) {
	if len(rows) < 2 {
		return "", nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		header[i] = h
	}
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		item := make(map[string]string, len(header))
		blank := true
		for i, name := range header {
			if i >= len(row) {
				break
			}
			v := strings.TrimSpace(row[i])
			if v != "" {
				blank = false
			}
			item[name] = v
		}
		if !blank {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return "", nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseHTML(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return normalizeText(nodeText(doc)), nil
}

func parseText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return normalizeText(string(data)), nil
}

// runOCR shells out to a tesseract-compatible command that prints the
// recognised text of the image to stdout.
func (a *App) runOCR(ctx context.Context, path string) (string, error) {
	command := a.ocrCommand
	if _, err := exec.LookPath(command); err != nil {
		return "", fmt.Errorf("ocr command %q not found: %w", command, err)
	}
	timeout := a.ocrTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, path, "stdout")
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("ocr timed out after %s", timeout)
		}
		return "", fmt.Errorf("ocr failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return normalizeText(string(output)), nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func nodeText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode {
			switch node.Data {
			case "p", "br", "div", "li", "tr", "td", "th":
				buf.WriteString(" ")
			}
		}
	}
	walk(n)
	return buf.String()
}

// copyToTemp spills r to a temporary file that keeps the extension of
// filename, since every parser above works on paths.
func copyToTemp(r io.Reader, filename string) (string, error) {
	tmp, err := os.CreateTemp("", "churn-*"+extensionOf(filename))
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
