package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"
)

// DocsClient appends rendered reports to tabs of the operating review
// document.
type DocsClient struct {
	svc   *docs.Service
	docID string
}

func NewDocsClient(ctx context.Context, cfg Config) (*DocsClient, error) {
	if cfg.ReviewDocumentID == "" {
		return nil, fmt.Errorf("review_document_id is not configured")
	}
	svc, err := docs.NewService(ctx, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("docs service: %w", err)
	}
	return &DocsClient{svc: svc, docID: cfg.ReviewDocumentID}, nil
}

// findDocTab walks the document's tab tree for a tab titled title. The
// second return lists every title seen, for the not-found error.
func findDocTab(tabs []*docs.Tab, title string) (*docs.Tab, []string) {
	var seen []string
	var walk func([]*docs.Tab) *docs.Tab
	walk = func(tabs []*docs.Tab) *docs.Tab {
		for _, tab := range tabs {
			if tab.TabProperties != nil {
				seen = append(seen, tab.TabProperties.Title)
				if tab.TabProperties.Title == title {
					return tab
				}
			}
			if found := walk(tab.ChildTabs); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(tabs), seen
}

// appendTextRequest builds the insert that appends content at the end of a
// tab's body. Insertion must land before the segment's closing newline, so
// the index is one short of the last element's end.
func appendTextRequest(tab *docs.Tab, content string) *docs.Request {
	var index int64 = 1
	if tab.DocumentTab != nil && tab.DocumentTab.Body != nil {
		if elements := tab.DocumentTab.Body.Content; len(elements) > 0 {
			if end := elements[len(elements)-1].EndIndex; end > 1 {
				index = end - 1
			}
		}
	}
	return &docs.Request{
		InsertText: &docs.InsertTextRequest{
			Text: "\n" + content + "\n",
			Location: &docs.Location{
				Index: index,
				TabId: tab.TabProperties.TabId,
			},
		},
	}
}

// AppendMarkdown appends content to the named tab of the review document.
func (c *DocsClient) AppendMarkdown(ctx context.Context, tabName, content string) error {
	doc, err := c.svc.Documents.Get(c.docID).IncludeTabsContent(true).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}

	tab, seen := findDocTab(doc.Tabs, tabName)
	if tab == nil {
		return fmt.Errorf("tab %q not found in document, available: %s", tabName, strings.Join(seen, ", "))
	}

	_, err = c.svc.Documents.BatchUpdate(c.docID, &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{appendTextRequest(tab, content)},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to tab %q: %w", tabName, err)
	}
	log.Printf("doc write tab=%s bytes=%d", tabName, len(content))
	return nil
}
