package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
)

// PageCreator creates pages in a Notion database.
type PageCreator interface {
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
}

// NotionClient is the PageCreator backed by the Notion API.
type NotionClient struct {
	client *notionapi.Client
}

// NewNotionClient creates a client with the given integration token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{client: notionapi.NewClient(notionapi.Token(token))}
}

// CreatePage creates a page under databaseID.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	}

	page, err := n.client.Page.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	return page, nil
}

// NotionRecorder mirrors applied entries into a Notion database, one page
// per transaction. Other outcomes are not written.
type NotionRecorder struct {
	pages      PageCreator
	databaseID string
}

// NewNotionRecorder creates a recorder for databaseID.
func NewNotionRecorder(pages PageCreator, databaseID string) *NotionRecorder {
	return &NotionRecorder{pages: pages, databaseID: databaseID}
}

// Record creates a page for each applied record.
func (n *NotionRecorder) Record(ctx context.Context, records []Record) error {
	for _, r := range records {
		if r.Outcome != OutcomeApplied {
			continue
		}
		if _, err := n.pages.CreatePage(ctx, n.databaseID, recordProperties(r)); err != nil {
			return fmt.Errorf("NotionRecorder.Record: account %s: %w", r.AccountID, err)
		}
	}
	return nil
}

func recordProperties(r Record) notionapi.Properties {
	day := notionapi.Date(time.Date(r.RecordedAt.Year(), r.RecordedAt.Month(), r.RecordedAt.Day(), 0, 0, 0, 0, time.UTC))

	return notionapi.Properties{
		"Account": notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{Content: r.AccountID},
				},
			},
		},
		"Pass": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{Content: r.PassID},
				},
			},
		},
		"Balance":  notionapi.NumberProperty{Number: r.Observed},
		"Previous": notionapi.NumberProperty{Number: r.Previous},
		"Change":   notionapi.NumberProperty{Number: float64(r.AmountMinor) / 100},
		"Date": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &day},
		},
	}
}
