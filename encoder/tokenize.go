package encoder

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "been": true, "by": true, "for": true, "from": true, "has": true,
	"he": true, "in": true, "is": true, "it": true, "its": true, "of": true,
	"on": true, "that": true, "the": true, "to": true, "was": true, "will": true,
	"with": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "can": true, "must": true, "shall": true, "this": true,
	"these": true, "they": true, "them": true, "their": true, "there": true,
	"then": true, "than": true, "or": true, "but": true, "not": true, "no": true,
	"nor": true, "so": true, "yet": true, "however": true, "therefore": true,
	"thus": true, "hence": true, "because": true, "since": true, "although": true,
	"though": true, "unless": true, "until": true, "while": true, "where": true,
	"when": true, "who": true, "whom": true, "whose": true, "which": true,
	"what": true, "why": true, "how": true, "if": true, "do": true, "does": true,
	"did": true, "have": true, "had": true, "having": true, "we": true, "you": true,
	"your": true, "our": true, "i": true, "me": true, "my": true, "she": true,
	"her": true, "him": true, "his": true, "all": true, "any": true, "into": true,
	"about": true, "also": true, "more": true, "most": true, "very": true,
	"just": true, "only": true, "over": true, "such": true, "some": true,
}

// Tokenize lower-cases text, drops stopwords and single characters, and
// stems what is left.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) < 2 || stopWords[w] {
			continue
		}
		tokens = append(tokens, stemWord(w))
	}
	return tokens
}

func stemWord(word string) string {
	stem, err := snowball.Stem(word, "english", true)
	if err != nil || stem == "" {
		return word
	}
	return stem
}
