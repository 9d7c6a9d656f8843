package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

const defaultTopK = 3

// FileRetriever 从本地目录加载产品文档（.md/.txt），按空行切分成段落，
// 用词项重叠打分检索。适合离线/演示部署，线上可换成 HTTPRetriever。
type FileRetriever struct {
	docs []*schema.Document
	// terms 与 docs 一一对应，缓存每段的词项集合。
	terms []map[string]struct{}
	topK  int
}

var _ retriever.Retriever = (*FileRetriever)(nil)

func NewFileRetriever(dir string, topK int) (*FileRetriever, error) {
	if dir == "" {
		return nil, fmt.Errorf("knowledge.docs_dir is required for local mode")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	r := &FileRetriever{topK: topK}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
		default:
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		r.AddText(rel, string(raw))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load knowledge docs: %w", err)
	}
	return r, nil
}

// AddText 把一段文本按段落加入索引，source 写入文档元数据。
func (r *FileRetriever) AddText(source, text string) {
	for i, para := range splitParagraphs(text) {
		doc := &schema.Document{
			ID:       source + "#" + strconv.Itoa(i),
			Content:  para,
			MetaData: map[string]any{"source": source},
		}
		r.docs = append(r.docs, doc)
		r.terms = append(r.terms, termSet(para))
	}
}

func (r *FileRetriever) Len() int {
	return len(r.docs)
}

func (r *FileRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.topK
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if o.TopK != nil && *o.TopK > 0 {
		topK = *o.TopK
	}

	q := termSet(query)
	if len(q) == 0 {
		return nil, nil
	}

	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, terms := range r.terms {
		n := 0
		for t := range q {
			if _, ok := terms[t]; ok {
				n++
			}
		}
		if n == 0 {
			continue
		}
		hits = append(hits, scored{idx: i, score: float64(n) / float64(len(q))})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]*schema.Document, 0, len(hits))
	for _, h := range hits {
		src := r.docs[h.idx]
		doc := &schema.Document{ID: src.ID, Content: src.Content, MetaData: map[string]any{}}
		for k, v := range src.MetaData {
			doc.MetaData[k] = v
		}
		doc.WithScore(h.score)
		out = append(out, doc)
	}
	return out, nil
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "of": {}, "to": {}, "and": {}, "or": {},
	"in": {}, "on": {}, "for": {}, "with": {}, "what": {}, "how": {}, "do": {}, "does": {},
	"i": {}, "you": {}, "your": {}, "my": {}, "me": {}, "can": {}, "it": {}, "be": {},
}

func termSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, skip := stopWords[f]; skip {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}
