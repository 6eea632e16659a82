package analyzers

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	doNameRe   = regexp.MustCompile(`Name:\s+(.+)`)
	doMTRe     = regexp.MustCompile(`MethodTable:\s+([0-9a-fA-F]+)`)
	doEERe     = regexp.MustCompile(`EEClass:\s+([0-9a-fA-F]+)`)
	doSizeRe   = regexp.MustCompile(`Size:\s+(\d+)\(0x[0-9a-fA-F]+\)\s+bytes`)
	doStringRe = regexp.MustCompile(`String:\s+(.+)`)
	doArrayRe  = regexp.MustCompile(`Array:\s+Rank\s+(\d+),\s+Number of elements\s+(\d+)`)

	// MT FieldID Offset Type VT Attr Value Name
	doFieldRe = regexp.MustCompile(
		`^\s*([0-9a-fA-F]+)\s+([0-9a-fA-F]+)\s+(\d+)\s+(.+?)\s+(\d+)\s+(instance|static)\s+([0-9a-fA-F]+)\s+(.+)`)

	zeroValueRe = regexp.MustCompile(`^0+$`)
)

// Object categories flagged in summaries when the type name matches.
var interestingObjectTypes = []struct {
	keyword  string
	category string
}{
	{"Exception", "exception object"},
	{"SqlConnection", "database connection"},
	{"SqlCommand", "database command"},
	{"Task", "async task"},
	{"HttpClient", "http client"},
	{"FileStream", "file handle"},
	{"Timer", "timer object"},
	{"Thread", "thread object"},
	{"DbContext", "entity framework context"},
}

// ObjectField is one parsed row of a !do field table.
type ObjectField struct {
	Name     string
	Type     string
	Value    string
	Offset   int
	IsNull   bool
	IsStatic bool
}

// DumpObjectAnalyzer parses single-object inspection output from !do.
type DumpObjectAnalyzer struct{}

func NewDumpObjectAnalyzer() *DumpObjectAnalyzer { return &DumpObjectAnalyzer{} }

func (a *DumpObjectAnalyzer) Name() string        { return "do" }
func (a *DumpObjectAnalyzer) Description() string { return "object inspection and field extraction from !do" }
func (a *DumpObjectAnalyzer) Tier() int           { return 1 }

func (a *DumpObjectAnalyzer) CanAnalyze(command string) bool {
	cmd := strings.ToLower(strings.TrimSpace(command))
	return cmd == "!do" || strings.HasPrefix(cmd, "!do ") || strings.HasPrefix(cmd, "!dumpobj")
}

func (a *DumpObjectAnalyzer) Analyze(command, output string) *AnalysisResult {
	target := "unknown"
	if parts := strings.Fields(command); len(parts) >= 2 {
		target = parts[1]
	}

	lower := strings.ToLower(output)
	if strings.Contains(lower, "invalid") || strings.Contains(lower, "not found") {
		return &AnalysisResult{
			StructuredData: map[string]any{
				"target_address": target,
				"error":          "object not found or invalid address",
			},
			Summary:  fmt.Sprintf("Object %s not found or invalid", target),
			Findings: []string{"Address may be invalid, freed, or corrupted"},
			Metadata: meta(a.Name(), a.Tier()),
			Success:  true,
		}
	}

	objType := "unknown"
	if m := doNameRe.FindStringSubmatch(output); m != nil {
		objType = strings.TrimSpace(m[1])
	}
	var methodTable, eeClass string
	if m := doMTRe.FindStringSubmatch(output); m != nil {
		methodTable = m[1]
	}
	if m := doEERe.FindStringSubmatch(output); m != nil {
		eeClass = m[1]
	}
	size := 0
	if m := doSizeRe.FindStringSubmatch(output); m != nil {
		size = atoiMust(m[1])
	}

	fields := extractObjectFields(output)

	var stringContent string
	if m := doStringRe.FindStringSubmatch(output); m != nil {
		stringContent = strings.Trim(strings.TrimSpace(m[1]), `"`)
	}
	var arrayRank, arrayLen int
	hasArray := false
	if m := doArrayRe.FindStringSubmatch(output); m != nil {
		arrayRank, arrayLen = atoiMust(m[1]), atoiMust(m[2])
		hasArray = true
	}

	var suspicious []string
	nullCount, staticCount := 0, 0
	for _, f := range fields {
		if f.IsNull {
			nullCount++
		}
		if f.IsStatic {
			staticCount++
		}
	}
	if len(fields) > 2 && nullCount*2 > len(fields) {
		suspicious = append(suspicious, fmt.Sprintf("%d of %d fields are null (possible initialization issue)", nullCount, len(fields)))
	}
	if size > 10240 {
		suspicious = append(suspicious, fmt.Sprintf("large object: %d bytes", size))
	}
	for _, f := range fields {
		switch strings.ToLower(f.Name) {
		case "_connectionstring", "_state", "_disposed":
			if f.IsNull {
				suspicious = append(suspicious, fmt.Sprintf("critical field %q is null", f.Name))
			}
		}
	}

	category := ""
	for _, it := range interestingObjectTypes {
		if strings.Contains(strings.ToLower(objType), strings.ToLower(it.keyword)) {
			category = it.category
			break
		}
	}

	findings := []string{
		fmt.Sprintf("Object type: %s", objType),
		fmt.Sprintf("Size: %s", formatBytes(int64(size))),
	}
	if len(fields) > 0 {
		findings = append(findings, fmt.Sprintf("Fields: %d total, %d null, %d static", len(fields), nullCount, staticCount))
	}
	if stringContent != "" {
		preview := stringContent
		if len(preview) > 50 {
			preview = preview[:50] + "..."
		}
		findings = append(findings, fmt.Sprintf("String value: %q", preview))
	}
	if hasArray {
		findings = append(findings, fmt.Sprintf("Array: %d elements, rank %d", arrayLen, arrayRank))
	}
	findings = append(findings, suspicious...)

	summary := fmt.Sprintf("%s at %s: %d bytes, %d fields", objType, target, size, len(fields))
	if category != "" {
		summary = fmt.Sprintf("%s (%s) at %s: %d bytes, %d fields", objType, category, target, size, len(fields))
	}

	md := meta(a.Name(), a.Tier())
	md["object_type"] = objType
	md["has_issues"] = len(suspicious) > 0

	return &AnalysisResult{
		StructuredData: map[string]any{
			"target_address": target,
			"type":           objType,
			"method_table":   methodTable,
			"ee_class":       eeClass,
			"size_bytes":     size,
			"fields":         fields,
			"string_content": stringContent,
			"object_category": category,
			"suspicious":     suspicious,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

func extractObjectFields(output string) []ObjectField {
	var fields []ObjectField
	inTable := false
	for _, line := range splitLines(output) {
		if strings.Contains(line, "MT") && strings.Contains(line, "Field") && strings.Contains(line, "Name") {
			inTable = true
			continue
		}
		if !inTable || strings.TrimSpace(line) == "" {
			continue
		}
		m := doFieldRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		fields = append(fields, ObjectField{
			Name:     strings.TrimSpace(m[8]),
			Type:     strings.TrimSpace(m[4]),
			Value:    m[7],
			Offset:   atoiMust(m[3]),
			IsNull:   zeroValueRe.MatchString(m[7]),
			IsStatic: m[6] == "static",
		})
	}
	return fields
}
