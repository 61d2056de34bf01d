package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"churnboard/pkg/ai"
	"churnboard/pkg/domain"
)

const extractionSystemPrompt = "You output only valid JSON. No markdown."

const extractionPrompt = `You are an expert HR data extractor.
Extract the following structured information from the provided text and return ONLY a raw, valid JSON object matching this schema. Do not include any markdown formatting, explanations, or code blocks. Just the raw JSON.

Required JSON keys:
- "employee_id" (string)
- "joining_date" (string, format YYYY-MM-DD, or null if missing)
- "exit_date" (string, format YYYY-MM-DD, or null if missing)
- "department" (string, or null if missing)
- "last_performance_rating" (number, or null if missing)
- "salary" (float, or null if missing, strip any currency symbols and commas)
- "exit_reason" (string, or null if missing)
- "churn_flag" (boolean, true if the employee has exited, false otherwise)

Text to process:
`

const analystSystemPrompt = "You are a senior HR data analyst. Answer questions strictly based on the provided JSON data. Do not make up information or use external knowledge. Be precise and data-driven in your responses."

// maxPromptRunes bounds the document text sent for extraction.
const maxPromptRunes = 24000

// extractProfile asks the generator for the structured profile in text and
// returns it with the raw JSON object the model produced.
func (a *App) extractProfile(ctx context.Context, text string) (domain.Extraction, []byte, error) {
	if a.generator == nil {
		return domain.Extraction{}, nil, ErrGeneratorRequired
	}
	if runes := []rune(text); len(runes) > maxPromptRunes {
		text = string(runes[:maxPromptRunes])
	}
	reply, err := a.generator.GenerateText(ctx, extractionSystemPrompt, extractionPrompt+text,
		ai.WithTemperature(0.1), ai.WithMaxTokens(1024))
	if err != nil {
		return domain.Extraction{}, nil, fmt.Errorf("generate extraction: %w", err)
	}
	return parseExtraction(reply)
}

// parseExtraction decodes a model reply. Replies that are not a JSON object
// or lack an employee_id yield ErrNoEmployeeID.
func parseExtraction(reply string) (domain.Extraction, []byte, error) {
	body := stripFences(reply)
	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return domain.Extraction{}, nil, ErrNoEmployeeID
	}
	ext := domain.Extraction{
		EmployeeID:            asString(raw["employee_id"]),
		Department:            optionalString(raw["department"]),
		JoiningDate:           optionalDate(raw["joining_date"]),
		ExitDate:              optionalDate(raw["exit_date"]),
		ExitReason:            optionalString(raw["exit_reason"]),
		Salary:                optionalNumber(raw["salary"]),
		LastPerformanceRating: optionalNumber(raw["last_performance_rating"]),
		ChurnFlag:             asBool(raw["churn_flag"]),
	}
	if ext.EmployeeID == "" {
		return domain.Extraction{}, nil, ErrNoEmployeeID
	}
	compact := new(bytes.Buffer)
	if err := json.Compact(compact, []byte(body)); err != nil {
		return ext, nil, nil
	}
	return ext, compact.Bytes(), nil
}

// stripFences removes a surrounding markdown code fence.
func stripFences(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.Contains(s[:nl], "{") {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		switch strings.ToLower(s) {
		case "none", "null", "n/a":
			return ""
		}
		return s
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func optionalString(v any) *string {
	if s := asString(v); s != "" {
		return &s
	}
	return nil
}

func optionalDate(v any) *domain.Date {
	d, ok := domain.ParseDate(asString(v))
	if !ok {
		return nil
	}
	return &d
}

// optionalNumber accepts JSON numbers and strings such as "$52,000.50".
func optionalNumber(v any) *float64 {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = cleanNumber(t)
	default:
		return nil
	}
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func cleanNumber(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == ',', r == ' ':
		default:
			// Currency symbols and codes are dropped; anything after the
			// number (units, ranges) ends it.
			if b.Len() > 0 {
				return b.String()
			}
		}
	}
	return b.String()
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1", "y":
			return true
		}
	case json.Number:
		return t.String() != "0"
	}
	return false
}

// answer asks the analyst prompt a question scoped to records.
func (a *App) answer(ctx context.Context, question string, records []domain.Record) (string, error) {
	if a.generator == nil {
		return "", ErrGeneratorRequired
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode chat data: %w", err)
	}
	user := fmt.Sprintf("Here is the HR data in JSON format:\n%s\n\nQuestion: %s", data, question)
	reply, err := a.generator.GenerateText(ctx, analystSystemPrompt, user,
		ai.WithTemperature(0.3), ai.WithMaxTokens(2048))
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return strings.TrimSpace(reply), nil
}
