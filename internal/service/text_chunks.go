package service

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// sentenceEnd - символы, после которых текст можно резать без разрыва фразы.
const sentenceEnd = ".!?;:,…¡¿\n"

// splitText режет текст на куски не длиннее maxLen рун: сначала по знакам препинания,
// затем по пробелам, слово длиннее maxLen режется жестко. Куски без букв и цифр отбрасываются.
func splitText(text string, maxLen int) []string {
	var chunks []string
	for _, sentence := range splitSentences(text) {
		for _, piece := range minimize(sentence, maxLen) {
			if hasSpeakable(piece) {
				chunks = append(chunks, piece)
			}
		}
	}
	return packChunks(chunks, maxLen)
}

// splitSentences делит текст после каждого знака препинания, знак остается в куске.
func splitSentences(text string) []string {
	var parts []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if strings.ContainsRune(sentenceEnd, r) {
			if s := strings.TrimSpace(current.String()); s != "" {
				parts = append(parts, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}

// minimize режет кусок по пробелам до maxLen рун.
func minimize(text string, maxLen int) []string {
	var out []string
	runes := []rune(strings.TrimSpace(text))
	for len(runes) > maxLen {
		cut := 0
		for i := maxLen; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if cut == 0 {
			// пробела нет: режем ровно по maxLen
			cut = maxLen
		}
		if head := strings.TrimSpace(string(runes[:cut])); head != "" {
			out = append(out, head)
		}
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// packChunks склеивает соседние короткие куски, пока результат помещается в maxLen.
func packChunks(chunks []string, maxLen int) []string {
	var out []string
	for _, chunk := range chunks {
		if n := len(out); n > 0 && utf8.RuneCountInString(out[n-1])+1+utf8.RuneCountInString(chunk) <= maxLen {
			out[n-1] = out[n-1] + " " + chunk
			continue
		}
		out = append(out, chunk)
	}
	return out
}

func hasSpeakable(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}
