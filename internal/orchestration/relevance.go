package orchestration

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"
)

// TopParagraphs ranks the article's paragraphs against the target keyword
// using an in-memory full-text index and returns the k best matches in rank
// order. Agents get these as placement candidates so they reason about the
// relevant slice of a long article instead of the whole document.
//
// With no keyword, or when nothing matches, the first k paragraphs are
// returned so agents always have context to work with.
func TopParagraphs(article, keyword string, k int) ([]string, error) {
	paras := SplitParagraphs(article)
	if len(paras) == 0 {
		return nil, nil
	}
	if k <= 0 || k > len(paras) {
		k = len(paras)
	}
	if strings.TrimSpace(keyword) == "" {
		return paras[:k], nil
	}

	mapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("building paragraph index: %w", err)
	}
	defer index.Close()

	for i, p := range paras {
		if err := index.Index(strconv.Itoa(i), map[string]string{"text": p}); err != nil {
			return nil, fmt.Errorf("indexing paragraph %d: %w", i, err)
		}
	}

	query := bleve.NewMatchQuery(keyword)
	req := bleve.NewSearchRequest(query)
	req.Size = k
	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching paragraphs: %w", err)
	}
	if len(res.Hits) == 0 {
		return paras[:k], nil
	}

	out := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(paras) {
			continue
		}
		out = append(out, paras[i])
	}
	return out, nil
}

// SplitParagraphs splits a document on blank lines, trimming whitespace and
// dropping empty segments.
func SplitParagraphs(article string) []string {
	raw := strings.Split(strings.ReplaceAll(article, "\r\n", "\n"), "\n\n")
	var out []string
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
