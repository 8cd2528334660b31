package extract

import (
	"strings"

	"mira/internal/interview"
)

// keywordScanConfidence marks mentions found by keyword scan, distinctly
// lower than model-reported mentions.
const keywordScanConfidence = 0.6

// symptomRule maps trigger phrases to one normalized symptom.
type symptomRule struct {
	name     string
	category string
	phrases  []string
}

// Phrases are matched against apostrophe-stripped lowercase text on token
// boundaries, so "can't sleep" is listed as "cant sleep".
var symptomRules = []symptomRule{
	{
		name: "depressed mood", category: "mood",
		phrases: []string{
			"depressed", "depression", "sad", "down", "miserable", "hopeless",
			"crying", "tearful", "empty inside",
		},
	},
	{
		name: "loss of interest", category: "mood",
		phrases: []string{
			"no interest", "lost interest", "not interested", "no pleasure",
			"dont enjoy", "cant enjoy", "nothing is fun", "stopped caring",
		},
	},
	{
		name: "worthlessness", category: "mood",
		phrases: []string{
			"worthless", "guilt", "guilty", "hate myself", "im a failure",
			"feel like a failure",
		},
	},
	{
		name: "anxiety", category: "anxiety",
		phrases: []string{
			"anxious", "anxiety", "worried", "worry", "panic", "panicky",
			"nervous", "on edge", "restless", "cant relax", "racing heart",
		},
	},
	{
		name: "sleep disturbance", category: "sleep",
		phrases: []string{
			"insomnia", "cant sleep", "trouble sleeping", "wake up", "waking up",
			"nightmares", "sleeping too much", "oversleeping",
			"cant fall asleep", "cant stay asleep",
		},
	},
	{
		name: "fatigue", category: "somatic",
		phrases: []string{
			"tired", "fatigue", "exhausted", "no energy", "drained", "worn out",
		},
	},
	{
		name: "appetite change", category: "somatic",
		phrases: []string{
			"no appetite", "not eating", "eating too much", "lost weight",
			"gained weight", "appetite",
		},
	},
	{
		name: "physical complaints", category: "somatic",
		phrases: []string{
			"headache", "headaches", "stomach ache", "stomachache", "nausea",
			"chest tightness", "chest pain", "dizzy", "dizziness",
		},
	},
	{
		name: "concentration difficulty", category: "cognitive",
		phrases: []string{
			"cant focus", "cant concentrate", "hard to concentrate",
			"trouble concentrating", "memory problems", "forget things",
			"forgetful", "racing thoughts", "mind goes blank",
		},
	},
	{
		name: "suicidal ideation", category: "risk",
		phrases: []string{
			"suicide", "suicidal", "kill myself", "killing myself",
			"end my life", "ending my life", "take my own life",
			"dont want to live", "dont want to be alive", "better off dead",
			"no reason to live", "want to die", "wish i was dead",
			"wish i were dead",
		},
	},
	{
		name: "self harm", category: "risk",
		phrases: []string{
			"self harm", "hurt myself", "hurting myself", "harm myself",
			"cut myself", "cutting myself",
		},
	},
}

// ScanSymptoms runs the keyword scan over free text and returns zero or more
// symptom mentions, at most one per normalized symptom name.
func ScanSymptoms(text string) []interview.SymptomMention {
	words := wordsOnly(normalizeResponse(text))
	if words == "" {
		return nil
	}

	var mentions []interview.SymptomMention
	for _, rule := range symptomRules {
		for _, phrase := range rule.phrases {
			idx := strings.Index(" "+words+" ", " "+phrase+" ")
			if idx < 0 {
				continue
			}
			mentions = append(mentions, interview.SymptomMention{
				Name:       rule.name,
				Category:   rule.category,
				Context:    snippetAround(text, phrase),
				Confidence: keywordScanConfidence,
			})
			break
		}
	}
	return mentions
}

// ContainsRiskLanguage reports whether the text matches any self-harm or
// suicide phrase. Used to raise the session safety flag on every turn.
func ContainsRiskLanguage(text string) bool {
	words := wordsOnly(normalizeResponse(text))
	if words == "" {
		return false
	}
	for _, rule := range symptomRules {
		if rule.category != "risk" {
			continue
		}
		for _, phrase := range rule.phrases {
			if containsPhrase(words, phrase) {
				return true
			}
		}
	}
	return false
}

// snippetAround returns a short excerpt of the original text surrounding the
// first rough occurrence of the phrase.
func snippetAround(text, phrase string) string {
	lower := strings.ToLower(text)
	probe := strings.Fields(phrase)[0]
	idx := strings.Index(lower, probe)
	if idx < 0 {
		idx = 0
	}
	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + len(phrase) + 40
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
