package dispatch

import (
	"content-pipeline-scheduler/internal/models"
	"content-pipeline-scheduler/internal/webhook"
)

// WebhookURLs tells the content worker where to report each of its stages.
type WebhookURLs struct {
	KeywordSelect   string `json:"keywordSelect"`
	ProductSelect   string `json:"productSelect"`
	ContentGenerate string `json:"contentGenerate"`
}

// ContentGenerateTask asks the content worker to pick a keyword and product
// and write the post.
type ContentGenerateTask struct {
	WorkID        string      `json:"workId"`
	Stage         models.Job  `json:"stage"`
	IsTest        bool        `json:"isTest"`
	SiteURL       string      `json:"siteUrl"`
	TrendCategory string      `json:"trendCategory"`
	WebhookSecret string      `json:"webhookSecret,omitempty"`
	WebhookURLs   WebhookURLs `json:"webhookUrls"`
}

// BlogUploadTask asks the upload worker to publish generated content.
type BlogUploadTask struct {
	WorkID        string     `json:"workId"`
	Stage         models.Job `json:"stage"`
	IsTest        bool       `json:"isTest"`
	BlogType      string     `json:"blogType"`
	BlogURL       string     `json:"blogUrl"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	WebhookURL    string     `json:"webhookUrl"`
	WebhookSecret string     `json:"webhookSecret,omitempty"`
}

func (d *Dispatcher) webhookURL(kind webhook.Kind) string {
	return d.opts.WebhookBaseURL + "/webhooks/" + webhook.Path(kind)
}

func buildContentGenerate(d *Dispatcher, wf models.Workflow, w models.Work) any {
	return ContentGenerateTask{
		WorkID:        w.ID,
		Stage:         models.JobContentGenerate,
		IsTest:        w.IsTest,
		SiteURL:       wf.SiteURL,
		TrendCategory: wf.TrendCategory,
		WebhookSecret: d.opts.WebhookSecret,
		WebhookURLs: WebhookURLs{
			KeywordSelect:   d.webhookURL(webhook.KindKeywordSelect),
			ProductSelect:   d.webhookURL(webhook.KindProductSelect),
			ContentGenerate: d.webhookURL(webhook.KindContentGenerate),
		},
	}
}

func buildBlogUpload(d *Dispatcher, wf models.Workflow, w models.Work) any {
	return BlogUploadTask{
		WorkID:        w.ID,
		Stage:         models.JobBlogUpload,
		IsTest:        w.IsTest,
		BlogType:      wf.BlogType,
		BlogURL:       wf.BlogURL,
		Title:         w.Title,
		Content:       w.Content,
		WebhookURL:    d.webhookURL(webhook.KindBlogUpload),
		WebhookSecret: d.opts.WebhookSecret,
	}
}
