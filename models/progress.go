package models

import (
	"encoding/json"
	"slices"
)

// Progress is a user's learning state. All three slices are always non-nil
// so they encode as [] rather than null.
type Progress struct {
	MasteredVocabIDs   []string `json:"mastered_vocab_ids"`
	FavoriteVocabIDs   []string `json:"favorite_vocab_ids"`
	MasteredGrammarIDs []string `json:"mastered_grammar_ids"`
}

const (
	fieldMasteredVocab   = "mastered_vocab_ids"
	fieldFavoriteVocab   = "favorite_vocab_ids"
	fieldMasteredGrammar = "mastered_grammar_ids"
)

func EmptyProgress() Progress {
	return Progress{
		MasteredVocabIDs:   []string{},
		FavoriteVocabIDs:   []string{},
		MasteredGrammarIDs: []string{},
	}
}

// Normalize converts an untrusted value into a fully populated Progress.
// Only objects (decoded JSON or Progress values) carry data; every other
// value, strings included, yields empty sets. For each field only string
// elements of an array survive, in their original order. It never fails.
func Normalize(raw any) Progress {
	switch v := raw.(type) {
	case Progress:
		return Progress{
			MasteredVocabIDs:   cloneStrings(v.MasteredVocabIDs),
			FavoriteVocabIDs:   cloneStrings(v.FavoriteVocabIDs),
			MasteredGrammarIDs: cloneStrings(v.MasteredGrammarIDs),
		}
	case *Progress:
		if v == nil {
			return EmptyProgress()
		}
		return Normalize(*v)
	case map[string]any:
		return Progress{
			MasteredVocabIDs:   stringElements(v[fieldMasteredVocab]),
			FavoriteVocabIDs:   stringElements(v[fieldFavoriteVocab]),
			MasteredGrammarIDs: stringElements(v[fieldMasteredGrammar]),
		}
	default:
		return EmptyProgress()
	}
}

// NormalizeJSON decodes data and normalizes the result. Invalid JSON yields
// an empty Progress.
func NormalizeJSON(data []byte) Progress {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return EmptyProgress()
	}
	if _, ok := decoded.(map[string]any); !ok {
		return EmptyProgress()
	}
	return Normalize(decoded)
}

func stringElements(value any) []string {
	switch items := value.(type) {
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return cloneStrings(items)
	default:
		return []string{}
	}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

func (p Progress) Summary() Summary {
	return Summary{
		MasteredVocab:   len(p.MasteredVocabIDs),
		FavoriteVocab:   len(p.FavoriteVocabIDs),
		MasteredGrammar: len(p.MasteredGrammarIDs),
	}
}

// The mutators below return a new Progress and leave the receiver untouched.

func (p Progress) AddMasteredVocab(id string) Progress {
	next := Normalize(p)
	next.MasteredVocabIDs = addID(next.MasteredVocabIDs, id)
	return next
}

func (p Progress) RemoveMasteredVocab(id string) Progress {
	next := Normalize(p)
	next.MasteredVocabIDs = removeID(next.MasteredVocabIDs, id)
	return next
}

func (p Progress) ToggleFavoriteVocab(id string) Progress {
	next := Normalize(p)
	next.FavoriteVocabIDs = toggleID(next.FavoriteVocabIDs, id)
	return next
}

func (p Progress) ToggleMasteredGrammar(id string) Progress {
	next := Normalize(p)
	next.MasteredGrammarIDs = toggleID(next.MasteredGrammarIDs, id)
	return next
}

func addID(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(x string) bool { return x == id })
}

func toggleID(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return removeID(ids, id)
	}
	return append(ids, id)
}
