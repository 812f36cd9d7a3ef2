// Package webhook reconciles stage completion callbacks from external workers
// into work item and workflow state.
package webhook

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"content-pipeline-scheduler/internal/models"
)

// Kind identifies which pipeline stage a callback reports on.
type Kind string

const (
	KindKeywordSelect   Kind = "keyword_select"
	KindProductSelect   Kind = "product_select"
	KindContentGenerate Kind = "content_generate"
	KindBlogUpload      Kind = "blog_upload"
)

// ErrUnknownKind is returned for callback kinds outside the closed set.
var ErrUnknownKind = errors.New("unknown webhook kind")

type kindSpec struct {
	stage models.Stage
	step  int
	label string
	// apply copies the stage result into the work item on success.
	apply func(w *models.Work, n Notification, at time.Time)
}

var kinds = map[Kind]kindSpec{
	KindKeywordSelect: {
		stage: models.StageKeywordSelected,
		step:  1,
		label: "Keyword Select",
		apply: func(w *models.Work, n Notification, at time.Time) {
			if n.Keyword != "" {
				w.Keyword = n.Keyword
			}
			w.KeywordSelectedAt = &at
		},
	},
	KindProductSelect: {
		stage: models.StageProductSelected,
		step:  2,
		label: "Product Select",
		apply: func(w *models.Work, n Notification, at time.Time) {
			if n.Product != nil {
				p := *n.Product
				w.Product = &p
			}
			w.ProductSelectedAt = &at
		},
	},
	KindContentGenerate: {
		stage: models.StageContentGenerated,
		step:  3,
		label: "Content Generate",
		apply: func(w *models.Work, n Notification, at time.Time) {
			if n.Title != "" {
				w.Title = n.Title
			}
			if n.Content != "" {
				w.Content = n.Content
			}
			if n.Summary != "" {
				w.Summary = n.Summary
			}
			w.ContentGeneratedAt = &at
		},
	},
	KindBlogUpload: {
		stage: models.StagePublished,
		step:  4,
		label: "Blog Upload (Worker)",
		apply: func(w *models.Work, n Notification, at time.Time) {
			if n.PostingURL != "" {
				w.PostingURL = n.PostingURL
			}
			w.PublishedAt = &at
		},
	},
}

// ParseKind accepts both the underscore form and the hyphenated URL form
// ("keyword-select").
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	if _, ok := kinds[k]; !ok {
		return "", errors.Wrapf(ErrUnknownKind, "%q", raw)
	}
	return k, nil
}

// Kinds lists the callback kinds in stage order.
func Kinds() []Kind {
	return []Kind{KindKeywordSelect, KindProductSelect, KindContentGenerate, KindBlogUpload}
}

// Path returns the URL segment a worker posts kind k to.
func Path(k Kind) string {
	return strings.ReplaceAll(string(k), "_", "-")
}
