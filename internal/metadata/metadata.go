package metadata

import (
	"sort"
	"strconv"
	"strings"
)

const (
	KeySkills        = "skills.hints"
	KeyDigest        = "skills.digest"
	KeyGates         = "gates.required"
	KeyGateResults   = "gates.results"
	KeyFiles         = "files.candidates"
	KeyPrompt        = "wave.prompt"
	KeyBatchID       = "wave.batch_id"
	KeyBatchPosition = "wave.batch_position"
	KeyTokens        = "usage.tokens"
	KeyCost          = "usage.cost_usd"
	KeyTranscript    = "usage.transcript"
)

const blockMarker = "|"
const blockIndent = "  "

// Record is the typed view of an item's notes blob. Lines that do not belong
// to a key owned here are kept verbatim in Extra and written back unchanged.
type Record struct {
	Skills        []string
	Digest        string
	Gates         []string
	GateResults   map[string]string
	Files         []string
	Prompt        string
	BatchID       string
	BatchPosition int
	Tokens        int64
	CostUSD       float64
	Transcript    string
	Extra         []string
}

var ownedKeys = map[string]bool{
	KeySkills: true, KeyDigest: true, KeyGates: true, KeyGateResults: true,
	KeyFiles: true, KeyPrompt: true, KeyBatchID: true, KeyBatchPosition: true,
	KeyTokens: true, KeyCost: true, KeyTranscript: true,
}

// Parse decodes a notes blob. It never fails: unknown lines go to Extra and
// malformed values for owned keys are dropped.
func Parse(blob string) Record {
	record := Record{}
	lines := strings.Split(strings.ReplaceAll(blob, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		key, value, ok := splitKeyValue(line)
		if !ok || !ownedKeys[key] {
			record.Extra = append(record.Extra, line)
			continue
		}
		if key == KeyPrompt && value == blockMarker {
			block := []string{}
			for i+1 < len(lines) && strings.HasPrefix(lines[i+1], blockIndent) {
				i++
				block = append(block, strings.TrimPrefix(lines[i], blockIndent))
			}
			value = strings.Join(block, "\n")
		}
		record.set(key, value)
	}
	record.Extra = trimBlankEdges(record.Extra)
	return record
}

func splitKeyValue(line string) (string, string, bool) {
	if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
		return "", "", false
	}
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	key := line[:idx]
	if strings.ContainsAny(key, " \t") || !strings.Contains(key, ".") {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}

func (r *Record) set(key string, value string) {
	switch key {
	case KeySkills:
		r.Skills = splitList(value)
	case KeyDigest:
		r.Digest = value
	case KeyGates:
		r.Gates = splitList(value)
	case KeyGateResults:
		r.GateResults = splitPairs(value)
	case KeyFiles:
		r.Files = splitList(value)
	case KeyPrompt:
		r.Prompt = value
	case KeyBatchID:
		r.BatchID = value
	case KeyBatchPosition:
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			r.BatchPosition = n
		}
	case KeyTokens:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
			r.Tokens = n
		}
	case KeyCost:
		if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
			r.CostUSD = f
		}
	case KeyTranscript:
		r.Transcript = value
	}
}

// Format renders the record. Extra lines come first in their original order,
// followed by owned keys in a fixed order. Empty fields are omitted.
func (r Record) Format() string {
	out := append([]string{}, trimBlankEdges(r.Extra)...)
	add := func(key string, value string) {
		if value == "" {
			return
		}
		out = append(out, key+": "+value)
	}
	add(KeySkills, joinList(r.Skills))
	add(KeyDigest, r.Digest)
	add(KeyGates, joinList(r.Gates))
	add(KeyGateResults, joinPairs(r.GateResults))
	add(KeyFiles, joinList(r.Files))
	if r.Prompt != "" {
		if strings.Contains(r.Prompt, "\n") || strings.TrimSpace(r.Prompt) != r.Prompt || r.Prompt == blockMarker {
			out = append(out, KeyPrompt+": "+blockMarker)
			for _, line := range strings.Split(r.Prompt, "\n") {
				out = append(out, blockIndent+line)
			}
		} else {
			add(KeyPrompt, r.Prompt)
		}
	}
	add(KeyBatchID, r.BatchID)
	if r.BatchID != "" {
		add(KeyBatchPosition, strconv.Itoa(r.BatchPosition))
	}
	if r.Tokens > 0 {
		add(KeyTokens, strconv.FormatInt(r.Tokens, 10))
	}
	if r.CostUSD > 0 {
		add(KeyCost, strconv.FormatFloat(r.CostUSD, 'f', -1, 64))
	}
	add(KeyTranscript, r.Transcript)
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

// Update parses blob, applies mutate and formats the result.
func Update(blob string, mutate func(*Record)) string {
	record := Parse(blob)
	if mutate != nil {
		mutate(&record)
	}
	return record.Format()
}

func splitList(value string) []string {
	seen := map[string]bool{}
	items := []string{}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		items = append(items, part)
	}
	if len(items) == 0 {
		return nil
	}
	return items
}

func joinList(items []string) string {
	cleaned := splitList(strings.Join(items, ","))
	return strings.Join(cleaned, ", ")
}

func splitPairs(value string) map[string]string {
	pairs := map[string]string{}
	for _, part := range splitList(value) {
		key, val, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		pairs[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	if len(pairs) == 0 {
		return nil
	}
	return pairs
}

func joinPairs(pairs map[string]string) string {
	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+pairs[key])
	}
	return strings.Join(parts, ", ")
}

func trimBlankEdges(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if start == end {
		return nil
	}
	return lines[start:end]
}
