package tokenizer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `An inverted index maps every term to the set of documents containing
        it. Queries are answered by combining the posting sets of their terms, each
        weighted by how rare the term is across the corpus, and reading the highest
        scoring documents back in order.`,
	"long": strings.Repeat(`Information retrieval systems form the backbone of modern search
        infrastructure. These systems combine tokenization, stemming, and stop word
        removal to normalize text into searchable terms. Sorted sets keep each term's
        postings ordered by term frequency so a weighted union ranks a whole query in
        a single round trip. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	tok := New(config.TokenizerConfig{MinLength: 2})
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				if _, err := tok.Tokenize(text); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	tok := New(config.TokenizerConfig{MinLength: 2})
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			tok.Tokenize(text)
		}
	})
}

func BenchmarkStemming(b *testing.B) {
	tok := New(config.TokenizerConfig{MinLength: 2, Stemmer: "snowball"})
	text := "running distributed searching indexing tokenization normalization efficiently processing"
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		tok.Tokenize(text)
	}
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	tok := New(config.TokenizerConfig{MinLength: 2})
	baseWord := "inverted index posting weighted union "
	for _, size := range []int{10, 100, 500, 1000, 5000} {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				tok.Tokenize(text)
			}
		})
	}
}
