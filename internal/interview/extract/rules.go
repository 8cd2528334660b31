package extract

import (
	"regexp"
	"strings"

	"mira/internal/interview"
)

// Confidence levels assigned by the deterministic matchers.
const (
	confExact     = 0.95
	confStrong    = 0.90
	confKeyword   = 0.85
	confQualified = 0.85
	confAmbiguous = 0.30
)

var (
	ambiguousPhrases = []string{
		"not sure", "dont know", "maybe", "uncertain",
		"no idea", "hard to say", "cant say",
	}

	// Leading "no" answers the question regardless of what follows.
	leadingNoPattern = regexp.MustCompile(`^no\b`)

	positiveQualifiers = map[string]bool{
		"definitely": true, "absolutely": true, "sure": true,
		"certainly": true, "yes": true,
	}
	strongNegators = map[string]bool{
		"not": true, "never": true, "no": true, "none": true,
	}
	contextualConnectors = map[string]bool{
		"but": true, "although": true, "though": true,
		"however": true, "except": true,
	}

	negativePhrases = []string{
		"no way", "i havent", "i have not", "i dont think", "i do not think",
		"i never had", "i never have", "never had", "never have",
		"not really", "not at all", "nothing like that", "i wouldnt say",
		"of course not", "definitely not", "absolutely not",
	}

	positivePhrases = []string{
		"i have had", "yes i do", "yes i have", "i have been", "i do", "i did",
		"i am", "it does", "i think so", "of course", "for sure",
		"yes", "yeah", "yep", "yup",
	}

	positiveKeywords = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true,
		"definitely": true, "absolutely": true, "certainly": true,
		"correct": true, "true": true,
	}
	negativeKeywords = map[string]bool{
		"no": true, "nope": true, "nah": true, "never": true,
		"not": true, "none": true, "negative": true, "false": true,
	}

	clauseSplitPattern = regexp.MustCompile(`[,.;!?]+`)
	numericPattern     = regexp.MustCompile(`^-?\d+$`)
	firstNumberPattern = regexp.MustCompile(`-?\d+`)
	nonWordPattern     = regexp.MustCompile(`[^a-z0-9\s]+`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// normalizeResponse lowercases, strips apostrophes and collapses whitespace.
// Clause punctuation is preserved for the boundary-sensitive rules.
func normalizeResponse(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, "’", "")
	s = strings.ReplaceAll(s, "'", "")
	return whitespacePattern.ReplaceAllString(s, " ")
}

// wordsOnly additionally strips every non-word rune, leaving space-separated tokens.
func wordsOnly(norm string) string {
	s := nonWordPattern.ReplaceAllString(norm, " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

func tokenize(s string) []string {
	w := wordsOnly(s)
	if w == "" {
		return nil
	}
	return strings.Split(w, " ")
}

// containsPhrase reports whether phrase occurs in s on token boundaries.
func containsPhrase(s, phrase string) bool {
	return strings.Contains(" "+s+" ", " "+phrase+" ")
}

// yesNoResult is the outcome of the yes/no decision matrix.
type yesNoResult struct {
	value              any // "yes", "no", or nil
	confidence         float64
	needsClarification bool
	qualifier          string // trailing qualifier preserved by a connector
}

// matchYesNo applies the yes/no decision matrix. The rules run strictly in
// order; the first one that fires decides the answer.
func matchYesNo(raw string) yesNoResult {
	norm := normalizeResponse(raw)
	words := wordsOnly(norm)
	if words == "" {
		return yesNoResult{confidence: 0, needsClarification: true}
	}

	// 1. Ambiguity beats everything: an unsure patient must be re-asked,
	// never coerced into an answer.
	for _, phrase := range ambiguousPhrases {
		if containsPhrase(words, phrase) {
			return yesNoResult{confidence: confAmbiguous, needsClarification: true}
		}
	}

	// 2. A reply that opens with "no" is a no even when affirmative words
	// follow ("no way are you crazy").
	if leadingNoPattern.MatchString(norm) {
		return yesNoResult{value: "no", confidence: confExact}
	}

	// 3. A positive qualifier negated later in the same clause flips to no
	// ("definitely not"). A connector between them ("yes but not recently")
	// keeps the answer affirmative and defers to rule 5.
	if qualifierNegatedInClause(norm) {
		return yesNoResult{value: "no", confidence: confStrong}
	}

	// 4. Explicit negative phrases.
	for _, phrase := range negativePhrases {
		if containsPhrase(words, phrase) {
			return yesNoResult{value: "no", confidence: confStrong}
		}
	}

	// 5. Explicit positive phrases, unless a nearby negator cancels them.
	// A contextual connector before the negator preserves the yes and the
	// qualifier text is kept.
	if res, ok := matchPositivePhrase(words); ok {
		return res
	}

	// 6. Single keyword, word-boundary, only when unambiguous.
	tokens := tokenize(norm)
	var hasPositive, hasNegative bool
	for _, tok := range tokens {
		if positiveKeywords[tok] {
			hasPositive = true
		}
		if negativeKeywords[tok] {
			hasNegative = true
		}
	}
	if hasPositive && !hasNegative {
		return yesNoResult{value: "yes", confidence: confKeyword}
	}
	if hasNegative && !hasPositive {
		return yesNoResult{value: "no", confidence: confKeyword}
	}

	// 7. Nothing decisive.
	return yesNoResult{confidence: 0, needsClarification: true}
}

// qualifierNegatedInClause reports whether any clause contains a positive
// qualifier followed by a strong negator with no contextual connector in
// between.
func qualifierNegatedInClause(norm string) bool {
	for _, clause := range clauseSplitPattern.Split(norm, -1) {
		tokens := tokenize(clause)
		qualifierAt := -1
		for i, tok := range tokens {
			if qualifierAt < 0 {
				if positiveQualifiers[tok] {
					qualifierAt = i
				}
				continue
			}
			if contextualConnectors[tok] {
				// Connector resets the window; negation after it is a
				// qualifier, not a reversal.
				qualifierAt = -1
				continue
			}
			if strongNegators[tok] {
				return true
			}
		}
	}
	return false
}

// matchPositivePhrase implements rule 5 of the matrix.
func matchPositivePhrase(words string) (yesNoResult, bool) {
	padded := " " + words + " "
	for _, phrase := range positivePhrases {
		idx := strings.Index(padded, " "+phrase+" ")
		if idx < 0 {
			continue
		}
		after := strings.TrimSpace(padded[idx+len(phrase)+1:])

		// Look for a strong negator within a short window after the phrase.
		window := after
		if len(window) > 30 {
			window = window[:30]
		}
		negatorAt := -1
		connectorAt := -1
		offset := 0
		for _, tok := range strings.Fields(window) {
			pos := strings.Index(window[offset:], tok) + offset
			offset = pos + len(tok)
			if strongNegators[tok] && negatorAt < 0 {
				negatorAt = pos
			}
			if contextualConnectors[tok] && connectorAt < 0 {
				connectorAt = pos
			}
		}

		if negatorAt < 0 {
			return yesNoResult{value: "yes", confidence: confStrong}, true
		}
		if connectorAt >= 0 && connectorAt < negatorAt {
			// "yes but not recently": the connector scopes the negation to a
			// qualifier, the answer itself stays yes.
			rest := after[connectorAt:]
			return yesNoResult{
				value:      "yes",
				confidence: confQualified,
				qualifier:  strings.TrimSpace(strings.TrimPrefix(rest, firstField(rest))),
			}, true
		}
		// Negator with no connector cancels the phrase; later rules decide.
		return yesNoResult{}, false
	}
	return yesNoResult{}, false
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// matchChoice resolves a reply against a fixed option list. The returned
// value is always a verbatim option string or nil.
func matchChoice(raw string, q *interview.Question, fuzzyThreshold float64) (any, float64) {
	if q == nil || len(q.Options) == 0 {
		return nil, 0
	}
	words := wordsOnly(normalizeResponse(raw))
	if words == "" {
		return nil, 0
	}

	// (a) A bare number selects by position, 1-based.
	numeric := strings.TrimPrefix(strings.TrimPrefix(words, "option "), "number ")
	if numericPattern.MatchString(numeric) {
		idx := parseInt(numeric)
		if idx >= 1 && idx <= len(q.Options) {
			return q.Options[idx-1], confExact
		}
		return nil, 0
	}

	// (b) Case-insensitive exact match.
	for _, opt := range q.Options {
		if words == wordsOnly(normalizeResponse(opt)) {
			return opt, confExact
		}
	}

	// (c) Containment for short replies, only when unambiguous.
	if len(words) <= 30 {
		matched := -1
		for i, opt := range q.Options {
			optWords := wordsOnly(normalizeResponse(opt))
			if optWords == "" {
				continue
			}
			if containsPhrase(optWords, words) || containsPhrase(words, optWords) {
				if matched >= 0 {
					matched = -1
					break
				}
				matched = i
			}
		}
		if matched >= 0 {
			return q.Options[matched], confKeyword
		}
	}

	// (d) Token-overlap fuzzy match.
	if opt, score := bestFuzzyOption(words, q.Options); score >= fuzzyThreshold {
		return opt, 0.6 + 0.3*score
	}

	// (e) No match.
	return nil, 0
}

// bestFuzzyOption returns the option with the highest token-overlap score.
func bestFuzzyOption(words string, options []string) (string, float64) {
	inputTokens := tokenSet(tokenize(words))
	best := ""
	bestScore := 0.0
	for _, opt := range options {
		optTokens := tokenSet(tokenize(wordsOnly(normalizeResponse(opt))))
		score := jaccard(inputTokens, optTokens)
		if score > bestScore {
			best, bestScore = opt, score
		}
	}
	return best, bestScore
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

var numberWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// matchScale extracts a bounded numeric rating.
func matchScale(raw string, q *interview.Question) (any, float64) {
	if q == nil {
		return nil, 0
	}
	words := wordsOnly(normalizeResponse(raw))
	if words == "" {
		return nil, 0
	}

	if numericPattern.MatchString(words) {
		n := parseInt(words)
		if n >= q.ScaleMin && n <= q.ScaleMax {
			return float64(n), confExact
		}
		return nil, 0
	}

	if m := firstNumberPattern.FindString(words); m != "" {
		n := parseInt(m)
		if n >= q.ScaleMin && n <= q.ScaleMax {
			return float64(n), confStrong
		}
		return nil, 0
	}

	for _, tok := range tokenize(words) {
		if n, ok := numberWords[tok]; ok {
			if n >= q.ScaleMin && n <= q.ScaleMax {
				return float64(n), confKeyword
			}
		}
	}

	return nil, 0
}

func parseInt(s string) int {
	n := 0
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		return -n
	}
	return n
}

// runRuleBased is the deterministic extraction method: near-zero latency,
// no external calls.
func (p *Pipeline) runRuleBased(obs observation) *interview.ProcessedResponse {
	resp := &interview.ProcessedResponse{
		QuestionID: obs.question.ID,
		RawText:    obs.rawText,
		Method:     interview.MethodRuleBased,
		Structured: extractStructured(obs.rawText),
		Symptoms:   ScanSymptoms(obs.rawText),
	}

	switch obs.question.Type {
	case interview.ResponseYesNo:
		res := matchYesNo(obs.rawText)
		resp.Value = res.value
		resp.Confidence = res.confidence
		resp.NeedsClarification = res.needsClarification
		if res.qualifier != "" && resp.Structured.Duration == "" {
			resp.Structured.Duration = res.qualifier
		}

	case interview.ResponseMultipleChoice:
		value, conf := matchChoice(obs.rawText, obs.question, p.cfg.FuzzyMatchThreshold)
		resp.Value = value
		resp.Confidence = conf
		resp.NeedsClarification = value == nil

	case interview.ResponseScale:
		value, conf := matchScale(obs.rawText, obs.question)
		resp.Value = value
		resp.Confidence = conf
		resp.NeedsClarification = value == nil

	case interview.ResponseFreeText:
		trimmed := strings.TrimSpace(obs.rawText)
		if trimmed == "" {
			resp.NeedsClarification = true
		} else {
			resp.Value = trimmed
			resp.Confidence = confStrong
		}

	default:
		resp.NeedsClarification = true
	}

	resp.Confidence = interview.ClampConfidence(resp.Confidence)
	return resp
}

// Structured-detail scanners. Best effort: empty fields are normal.
var (
	durationPattern  = regexp.MustCompile(`(?i)\b(?:for|since|over|during)\s+(?:[a-z0-9]+\s+){0,3}(?:days?|weeks?|months?|years?|nights?)\b|\ball my life\b|\bas long as i can remember\b`)
	frequencyPattern = regexp.MustCompile(`(?i)\b(?:every\s+(?:day|night|morning|evening)|most\s+(?:days|nights|mornings)|nearly\s+every\s+day|all\s+the\s+time|daily|nightly|constantly|always|often|sometimes|occasionally|rarely|(?:once|twice|\d+\s+times)\s+a\s+(?:day|week|month))\b`)
	severityPattern  = regexp.MustCompile(`(?i)\b(?:mild(?:ly)?|moderate(?:ly)?|severe(?:ly)?|really\s+bad|very\s+bad|pretty\s+bad|terrible|awful|unbearable|intense(?:ly)?|slight(?:ly)?|extreme(?:ly)?|overwhelming)\b`)
	triggerPattern   = regexp.MustCompile(`(?i)\b(?:whenever|when|after|before)\s+((?:[a-z0-9']+\s*){1,6})`)
	impactPattern    = regexp.MustCompile(`(?i)\b((?:cant|can't|cannot|hard\s+to|harder\s+to|difficult\s+to|struggle\s+to|unable\s+to|stopped|interferes?\s+with|affects?)\s+(?:[a-z0-9']+\s*){1,5})`)
)

// extractStructured scans free text for clinical detail mentioned in passing.
func extractStructured(raw string) interview.StructuredFields {
	var f interview.StructuredFields
	if strings.TrimSpace(raw) == "" {
		return f
	}

	if m := durationPattern.FindString(raw); m != "" {
		f.Duration = strings.TrimSpace(m)
	}
	if m := frequencyPattern.FindString(raw); m != "" {
		f.Frequency = strings.TrimSpace(m)
	}
	if m := severityPattern.FindString(raw); m != "" {
		f.Severity = strings.TrimSpace(m)
	}
	if m := impactPattern.FindStringSubmatch(raw); len(m) > 1 {
		f.Impact = clipDetail(m[1])
	}
	for _, m := range triggerPattern.FindAllStringSubmatch(raw, 3) {
		if len(m) > 1 {
			if t := clipDetail(m[1]); t != "" {
				f.Triggers = append(f.Triggers, t)
			}
		}
	}
	return f
}

func clipDetail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		s = strings.TrimSpace(s[:60])
	}
	return s
}
