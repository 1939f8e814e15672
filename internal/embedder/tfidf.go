package embedder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	tfidf "github.com/rioloc/tfidf-go"
	"github.com/rioloc/tfidf-go/token"

	"github.com/54b3r/concierge-go/internal/catalog"
)

// ErrEmptyCorpus is returned by FitTFIDF when there is nothing to learn from.
var ErrEmptyCorpus = errors.New("tfidf: empty corpus")

// TFIDFEncoder implements SparseEncoder with TF-IDF weights over a vocabulary
// fitted on the catalog. Sparse indices are vocabulary positions, so the same
// fitted model must be used at ingestion and query time. Terms outside the
// fitted vocabulary carry no weight.
type TFIDFEncoder struct {
	// vocabulary is the fitted term list; a term's index is its sparse index.
	vocabulary []string
	// idf holds the smoothed inverse document frequency per vocabulary term.
	idf []float64
}

// tfidfModel is the persisted form of a fitted encoder.
type tfidfModel struct {
	Vocabulary []string  `json:"vocabulary"`
	IDF        []float64 `json:"idf"`
}

// FitTFIDF learns vocabulary and IDF weights from corpus.
func FitTFIDF(corpus []string) (*TFIDFEncoder, error) {
	if len(corpus) == 0 {
		return nil, ErrEmptyCorpus
	}
	vocabulary, tokens, err := token.NewTokenizer().Tokenize(corpus)
	if err != nil {
		return nil, fmt.Errorf("tfidf: tokenize corpus: %w", err)
	}
	if len(vocabulary) == 0 {
		return nil, ErrEmptyCorpus
	}
	return newTFIDFEncoder(vocabulary, tfidf.Idf(vocabulary, tokens, true))
}

// LoadTFIDF reads a fitted encoder written by Save.
func LoadTFIDF(r io.Reader) (*TFIDFEncoder, error) {
	var m tfidfModel
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("tfidf: decode model: %w", err)
	}
	return newTFIDFEncoder(m.Vocabulary, m.IDF)
}

// LoadTFIDFFile reads a fitted encoder from path.
func LoadTFIDFFile(path string) (*TFIDFEncoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tfidf: open model: %w", err)
	}
	defer f.Close()
	return LoadTFIDF(f)
}

func newTFIDFEncoder(vocabulary []string, idf []float64) (*TFIDFEncoder, error) {
	if len(vocabulary) != len(idf) {
		return nil, fmt.Errorf("tfidf: vocabulary has %d terms but idf has %d weights", len(vocabulary), len(idf))
	}
	return &TFIDFEncoder{vocabulary: vocabulary, idf: idf}, nil
}

// Save writes the fitted model as JSON.
func (e *TFIDFEncoder) Save(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(tfidfModel{Vocabulary: e.vocabulary, IDF: e.idf}); err != nil {
		return fmt.Errorf("tfidf: encode model: %w", err)
	}
	return nil
}

// VocabularySize returns the number of fitted terms.
func (e *TFIDFEncoder) VocabularySize() int {
	return len(e.vocabulary)
}

// Encode implements SparseEncoder. Texts with no in-vocabulary terms yield
// an empty vector.
func (e *TFIDFEncoder) Encode(texts []string) ([]catalog.SparseVector, error) {
	out := make([]catalog.SparseVector, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	_, tokens, err := token.NewTokenizer().Tokenize(texts)
	if err != nil {
		return nil, fmt.Errorf("tfidf: tokenize: %w", err)
	}

	weights, err := tfidf.NewTfIdfVectorizer().TfIdf(tfidf.Tf(e.vocabulary, tokens), e.idf)
	if err != nil {
		return nil, fmt.Errorf("tfidf: weight: %w", err)
	}

	for i, row := range weights {
		var sv catalog.SparseVector
		for idx, w := range row {
			if w == 0 {
				continue
			}
			sv.Indices = append(sv.Indices, uint32(idx))
			sv.Values = append(sv.Values, float32(w))
		}
		out[i] = sv
	}
	return out, nil
}
