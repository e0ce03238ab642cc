// Package keywords picks search keywords out of Romanian news text.
//
// A token is kept when it is capitalised (names, places, institutions) or
// long enough to carry meaning, and it is not a stopword.
package keywords

import (
	"strings"
	"unicode"
)

const minContentRune = 6

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a acea aceasta această aceea acei aceia acel acela acele acelea acest acesta aceste acestea
		acestei acestui acolo acum ai aia aici al ale alt alta altceva alte altele altfel alti altii
		am ar are as asa asta astazi astfel au avea avem aveti azi ba bine ca cam cand care careia
		carora caruia cat catre ce cea ceea cei ceilalti cel cele celor ceva chiar ci cine cineva
		cu cum cumva da daca dar de deci deja desi despre din dintre doar dupa ea ei el ele eram este
		esti eu fara fata fi fie fiecare fii fim fiu fost foarte fi iar ii il imi in inainte inca
		insa intr intre isi iti la le li lor lui mai mult multe multi ne nici nimic nu o oare or ori
		pe pentru peste pana poate pot prea prin sa sai sau se si sunt sus tot toata toate toti tu
		un una unde unei unele uneori unor unui va vor voi și în că să după până când față fără
		într dintr acestă ăsta ăștia își îi îl îmi între însă încă numai spus spune anul luni marti
		miercuri joi vineri sambata duminica
		the and for with from that this
	`) {
		stopwords[w] = struct{}{}
	}
}

// Extract returns distinct keywords of text in order of first appearance.
// max <= 0 means no limit.
func Extract(text string, max int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range strings.FieldsFunc(text, isSeparator) {
		word := strings.TrimFunc(raw, func(r rune) bool { return r == '-' || r == '\'' })
		if word == "" {
			continue
		}
		lower := strings.ToLower(word)
		if _, stop := stopwords[lower]; stop {
			continue
		}
		if !keep(word) {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, word)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// Merge concatenates keyword lists, dropping case-insensitive duplicates.
func Merge(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, w := range list {
			lower := strings.ToLower(w)
			if _, dup := seen[lower]; dup {
				continue
			}
			seen[lower] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

func keep(word string) bool {
	runes := []rune(word)
	if len(runes) < 2 {
		return false
	}
	hasLetter := false
	for _, r := range runes {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return false
	}
	return unicode.IsUpper(runes[0]) || len(runes) >= minContentRune
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
}
